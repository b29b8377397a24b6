package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResumeCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Process every queued or interrupted incident",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := app.serviceFn(ctx, true)
			if err != nil {
				return err
			}

			started, err := svc.Resume(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resumed %d incident(s)\n", started)
			if started == 0 {
				return nil
			}

			sp := startSpinner(app.progressEnabled(), "Processing")
			err = svc.Shutdown(ctx)
			sp.Stop()
			return err
		},
	}
}

func newRetryCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <incident-id>",
		Short: "Retry a failed incident from the step that failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := app.requireTenant()
			if err != nil {
				return err
			}
			svc, err := app.serviceFn(cmd.Context(), true)
			if err != nil {
				return err
			}

			if err := svc.Retry(cmd.Context(), tenant, args[0]); err != nil {
				return err
			}
			return app.followRun(cmd, svc, tenant, args[0])
		},
	}
}

func newCancelCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <incident-id>",
		Short: "Cancel an unfinished incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := app.requireTenant()
			if err != nil {
				return err
			}
			svc, err := app.serviceFn(cmd.Context(), false)
			if err != nil {
				return err
			}

			if err := svc.Cancel(cmd.Context(), tenant, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "incident %s canceled\n", args[0])
			return nil
		},
	}
}
