package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shailesh-ag78/Inspecta/internal/records"
	"github.com/shailesh-ag78/Inspecta/internal/tasks"
	"github.com/shailesh-ag78/Inspecta/internal/workflow"
	"github.com/spf13/cobra"
)

func newStatusCmd(app *appState) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <incident-id>",
		Short: "Show the processing status of an incident",
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

			st, err := svc.Status(cmd.Context(), tenant, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "output-json", false, "Print the status as JSON")
	return cmd
}

func newTasksCmd(app *appState) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tasks <incident-id>",
		Short: "List the tasks generated for an incident",
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

			list, err := svc.Tasks(cmd.Context(), tenant, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			return printTasks(cmd.OutOrStdout(), list)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "output-json", false, "Print the tasks as JSON")
	return cmd
}

func newReviewCmd(app *appState) *cobra.Command {
	var status, comments string

	cmd := &cobra.Command{
		Use:   "review <task-id>",
		Short: "Record an expert review of a generated task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := app.requireTenant()
			if err != nil {
				return err
			}
			if status == "" {
				return errors.New("missing required flag --status")
			}
			parsed, err := tasks.ParseStatus(status)
			if err != nil {
				return err
			}
			svc, err := app.serviceFn(cmd.Context(), false)
			if err != nil {
				return err
			}

			if err := svc.ReviewTask(cmd.Context(), tenant, args[0], comments, parsed); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %s marked %s\n", args[0], parsed)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "New task status (pending|in_progress|expert_review|completed|failed)")
	cmd.Flags().StringVar(&comments, "comments", "", "Review comments")
	return cmd
}

func printStatus(w io.Writer, st workflow.Status) {
	fmt.Fprintf(w, "incident: %s\n", st.IncidentID)
	fmt.Fprintf(w, "status:   %s\n", st.Status)
	fmt.Fprintf(w, "message:  %s\n", st.DisplayMessage)
	if st.Attempts > 0 {
		fmt.Fprintf(w, "attempts: %d\n", st.Attempts)
	}
	if st.Error != "" {
		fmt.Fprintf(w, "error:    %s\n", st.Error)
	}
}

func printTasks(w io.Writer, list []records.TaskRecord) error {
	if len(list) == 0 {
		fmt.Fprintln(w, "no tasks")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSEVERITY\tTYPE\tSTATUS\tTITLE")
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Severity, t.Type, t.Status, t.Title)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
