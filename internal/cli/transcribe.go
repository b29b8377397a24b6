package cli

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/shailesh-ag78/Inspecta/internal/audio"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file without creating an incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			asset, err := app.probe(cmd, args[0])
			if err != nil {
				return err
			}
			pipeline, err := app.pipelineFn()
			if err != nil {
				return err
			}

			sp := startSpinner(app.progressEnabled(), "Transcribing")
			started := time.Now()
			result, err := pipeline.Transcribe(ctx, asset)
			sp.Stop()
			if err != nil {
				app.log().Warn("transcription failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
				return err
			}
			app.log().Info("transcription finished",
				zap.Duration("elapsed", time.Since(started)),
				zap.String("language", result.Language),
				zap.Int("failed_chunks", len(result.ChunkErrors)))
			for _, ce := range result.ChunkErrors {
				app.log().Warn("chunk missing from transcript", zap.Int("chunk", ce.Index), zap.Error(ce.Err))
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Text)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "output-json", false, "Print segments, language and duration as JSON")
	return cmd
}

func newPlanCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <audio-file>",
		Short: "Show how an audio file would be split for transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asset, err := app.probe(cmd, args[0])
			if err != nil {
				return err
			}
			pipeline, err := app.pipelineFn()
			if err != nil {
				return err
			}

			chunks, err := pipeline.Plan(asset)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d bytes, %s, %d chunk(s)\n", asset.Path, asset.Size, asset.Duration, len(chunks))
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CHUNK\tSTART\tEND\tLENGTH")
			for _, c := range chunks {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.Index, c.Start, c.End, c.Length())
			}
			return tw.Flush()
		},
	}
}

func (a *appState) probe(cmd *cobra.Command, path string) (audio.Asset, error) {
	asset, err := audio.FileProber{FFprobe: a.cfg.Tools.FFprobe}.Probe(cmd.Context(), filepath.Clean(path))
	if err != nil {
		return audio.Asset{}, fmt.Errorf("audio file not usable: %w", err)
	}
	return asset, nil
}
