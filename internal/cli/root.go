package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shailesh-ag78/Inspecta/internal/config"
	"github.com/shailesh-ag78/Inspecta/internal/incident"
	"github.com/shailesh-ag78/Inspecta/internal/logging"
	"github.com/shailesh-ag78/Inspecta/internal/platform"
	"github.com/shailesh-ag78/Inspecta/internal/records"
	"github.com/shailesh-ag78/Inspecta/internal/tasks"
	"github.com/shailesh-ag78/Inspecta/internal/version"
	"github.com/shailesh-ag78/Inspecta/internal/workflow"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/spf13/cobra"
)

// incidentService is what the commands need from incident.Service.
type incidentService interface {
	CreateInspection(ctx context.Context, tenantID, siteID, inspectorID string) (records.Inspection, error)
	Submit(ctx context.Context, up incident.Upload) (records.Incident, error)
	Status(ctx context.Context, tenantID, incidentID string) (workflow.Status, error)
	Tasks(ctx context.Context, tenantID, incidentID string) ([]records.TaskRecord, error)
	ReviewTask(ctx context.Context, tenantID, taskID, comments string, status tasks.Status) error
	Resume(ctx context.Context) (int, error)
	Retry(ctx context.Context, tenantID, incidentID string) error
	Cancel(ctx context.Context, tenantID, incidentID string) error
	Wait()
	Shutdown(ctx context.Context) error
}

type appState struct {
	verbose    bool
	jsonLogs   bool
	noProgress bool
	configPath string
	dataDir    string
	tenant     string

	cfg    config.Config
	layout platform.Layout
	logger *zap.Logger

	pollInterval time.Duration

	serviceFn  func(ctx context.Context, requireKeys bool) (incidentService, error)
	pipelineFn func() (audioTranscriber, error)
}

func newAppState() *appState {
	app := &appState{pollInterval: time.Second}
	app.serviceFn = app.buildService
	app.pipelineFn = app.buildPipeline
	return app
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(newAppState())
}

func newRootCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "inspecta",
		Short:         "Turn site inspection recordings into remediation tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Current().Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return app.setup()
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	flags.BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
	flags.BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
	flags.StringVar(&app.configPath, "config", app.configPath, "Config file (default $INSPECTA_CONFIG or <data-dir>/config.yaml)")
	flags.StringVar(&app.dataDir, "data-dir", app.dataDir, "Data directory (default $INSPECTA_DATA_DIR or the per-user data dir)")
	flags.StringVar(&app.tenant, "tenant", app.tenant, "Tenant owning the inspections and incidents")

	cmd.AddCommand(newInspectionCmd(app))
	cmd.AddCommand(newSubmitCmd(app))
	cmd.AddCommand(newStatusCmd(app))
	cmd.AddCommand(newTasksCmd(app))
	cmd.AddCommand(newReviewCmd(app))
	cmd.AddCommand(newResumeCmd(app))
	cmd.AddCommand(newRetryCmd(app))
	cmd.AddCommand(newCancelCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newPlanCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup resolves the data directory, loads the config and builds the logger.
// The --data-dir flag beats $INSPECTA_DATA_DIR, which beats data_dir in the
// config file.
func (a *appState) setup() error {
	base, err := platform.ResolveDataDir(firstNonEmpty(a.dataDir, os.Getenv(config.DataDirEnv)))
	if err != nil {
		return err
	}

	cfg, err := config.Load(a.configPath, base)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	root := base
	if a.dataDir == "" && cfg.DataDir != "" {
		root = cfg.DataDir
	}
	a.cfg = cfg
	a.layout = platform.LayoutFor(root)

	opts := logging.Options{Verbose: a.verbose, JSON: a.jsonLogs || cfg.Log.JSON}
	if !a.verbose {
		opts.Level = cfg.Log.Level
	}
	logger, err := logging.New(opts)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	a.logger = logger
	a.log().Debug("configuration loaded",
		zap.String("config", cfg.Source),
		zap.String("data_dir", root),
		zap.String("provider", cfg.Transcription.Provider))
	return nil
}

func (a *appState) requireTenant() (string, error) {
	tenant := strings.TrimSpace(a.tenant)
	if tenant == "" {
		return "", errors.New("missing required flag --tenant")
	}
	return tenant, nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
