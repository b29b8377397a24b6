package cli

import (
	"fmt"

	"github.com/shailesh-ag78/Inspecta/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Current()
			fmt.Fprintf(cmd.OutOrStdout(), "inspecta v%s (commit %s, built %s)\n", info.Version, info.Commit, info.Date)
			return nil
		},
	}
}
