package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInspectionCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspection",
		Short: "Manage inspections",
	}
	cmd.AddCommand(newInspectionCreateCmd(app))
	return cmd
}

func newInspectionCreateCmd(app *appState) *cobra.Command {
	var site, inspector string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an inspection to submit recordings against",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, err := app.requireTenant()
			if err != nil {
				return err
			}
			svc, err := app.serviceFn(cmd.Context(), false)
			if err != nil {
				return err
			}

			inspection, err := svc.CreateInspection(cmd.Context(), tenant, site, inspector)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), inspection.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&site, "site", "", "Site being inspected")
	cmd.Flags().StringVar(&inspector, "inspector", "", "Inspector running the inspection")
	return cmd
}
