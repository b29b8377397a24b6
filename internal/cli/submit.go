package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shailesh-ag78/Inspecta/internal/incident"
	"github.com/shailesh-ag78/Inspecta/internal/workflow"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSubmitCmd(app *appState) *cobra.Command {
	var (
		up     incident.Upload
		detach bool
	)

	cmd := &cobra.Command{
		Use:   "submit <media-file-or-url>",
		Short: "Submit an inspection recording and generate tasks from it",
		Long: "Submit stores the recording, records an incident and processes it: audio extraction,\n" +
			"transcription and task generation. With --detach the incident is only queued;\n" +
			"run \"inspecta resume\" to process queued incidents.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := app.requireTenant()
			if err != nil {
				return err
			}
			if up.InspectionID == "" {
				return errors.New("missing required flag --inspection")
			}

			ctx := cmd.Context()
			svc, err := app.serviceFn(ctx, !detach)
			if err != nil {
				return err
			}

			up.TenantID = tenant
			up.Source = args[0]
			up.Defer = detach
			inc, err := svc.Submit(ctx, up)
			if err != nil {
				return err
			}

			if detach {
				fmt.Fprintln(cmd.OutOrStdout(), inc.ID)
				return nil
			}

			app.log().Info("incident submitted", zap.String("incident", inc.ID))
			return app.followRun(cmd, svc, tenant, inc.ID)
		},
	}

	cmd.Flags().StringVar(&up.InspectionID, "inspection", "", "Inspection the recording belongs to")
	cmd.Flags().StringVar(&up.InspectorID, "inspector", "", "Inspector who made the recording (default: the inspection's)")
	cmd.Flags().StringVar(&up.SiteID, "site", "", "Site of the recording (default: the inspection's)")
	cmd.Flags().BoolVar(&detach, "detach", false, "Queue the incident and exit without processing it")
	return cmd
}

// followRun polls the incident until it finishes, then prints the outcome
// and, for a completed run, its tasks.
func (a *appState) followRun(cmd *cobra.Command, svc incidentService, tenant, incidentID string) error {
	ctx := cmd.Context()
	st, err := a.waitForRun(ctx, svc, tenant, incidentID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.log().Warn("stopped waiting; unfinished work continues on the next resume", zap.String("incident", incidentID))
		}
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		a.log().Warn("workflow shutdown", zap.Error(err))
	}

	out := cmd.OutOrStdout()
	printStatus(out, st)
	if st.Status == workflow.StatusFailed {
		return fmt.Errorf("incident %s failed: %s", incidentID, st.Error)
	}

	list, err := svc.Tasks(ctx, tenant, incidentID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	return printTasks(out, list)
}

func (a *appState) waitForRun(ctx context.Context, svc incidentService, tenant, incidentID string) (workflow.Status, error) {
	sp := startSpinner(a.progressEnabled(), workflow.DisplayMessage(workflow.NodeQueued))
	defer sp.Stop()

	interval := a.pollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		st, err := svc.Status(ctx, tenant, incidentID)
		if err != nil {
			return st, err
		}
		if st.Status != last {
			a.log().Debug("incident progress", zap.String("incident", incidentID), zap.String("status", st.Status))
			sp.Describe(st.DisplayMessage)
			last = st.Status
		}
		if st.IsFinished {
			return st, nil
		}

		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}
