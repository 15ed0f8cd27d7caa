// Command conductor runs the auto-mode feature scheduler for one project:
// it imports feature definitions, dispatches agent sessions against eligible
// backlog features, and serves the HTTP control API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"conductor/pkg/board"
	"conductor/pkg/config"
	"conductor/pkg/eventlog"
	"conductor/pkg/httpapi"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/persistence"
	"conductor/pkg/proto"
	"conductor/pkg/runner"
	runneranthropic "conductor/pkg/runner/anthropic"
	runneropenai "conductor/pkg/runner/openai"
	"conductor/pkg/scheduler"
)

// Version information, set via ldflags.
var (
	version = "dev"
	commit  = "none"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var (
		projectDir  = flag.String("projectdir", ".", "Project directory")
		httpAddr    = flag.String("addr", "", "Control API address (overrides config)")
		auto        = flag.Bool("auto", false, "Enable auto mode at startup (overrides config)")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("conductor %s (%s)\n", version, commit)
		os.Exit(0)
	}

	if *debug {
		logx.SetDebug(true)
	}

	if err := run(*projectDir, *httpAddr, *auto); err != nil {
		fmt.Fprintf(os.Stderr, "conductor: %v\n", err)
		os.Exit(1)
	}
}

func run(projectDir, httpAddr string, auto bool) error {
	if err := config.LoadConfig(projectDir); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}
	if httpAddr == "" {
		httpAddr = cfg.HTTPAddr
	}

	db, err := persistence.InitializeDatabase(filepath.Join(projectDir, cfg.DatabasePath))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close() //nolint:errcheck
	store := persistence.NewStore(db)

	if err := importFeatures(store, filepath.Join(projectDir, cfg.FeatureDir)); err != nil {
		return err
	}
	if err := recoverOrphans(store); err != nil {
		return err
	}

	agentRunner, err := buildRunner(&cfg.Agent)
	if err != nil {
		return err
	}

	recorder := metricsRecorder()
	sched := scheduler.New(store, agentRunner, recorder, cfg.Scheduler.Concurrency)

	transitions, err := eventlog.NewWriter(filepath.Join(projectDir, config.ProjectConfigDir, cfg.EventLogDir))
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer transitions.Close() //nolint:errcheck
	go transitions.Consume(sched.Notifications())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)
	if auto || cfg.Scheduler.AutoStart {
		sched.Enable()
	}

	api := httpapi.NewServer(httpAddr, sched, store)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- api.Start()
	}()

	logx.Infof("conductor %s ready (project %s)", version, projectDir)

	select {
	case <-ctx.Done():
		logx.Infof("shutting down")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logx.Warnf("control API shutdown: %v", err)
	}
	sched.Wait()
	return nil
}

// importFeatures loads YAML feature definitions into the store. Existing
// rows keep their runtime state; only new features are inserted.
func importFeatures(store *persistence.Store, featureDir string) error {
	features, err := board.NewImporter(featureDir).Load()
	if err != nil {
		return fmt.Errorf("failed to import features: %w", err)
	}
	for _, f := range features {
		if err := store.Upsert(f); err != nil {
			return fmt.Errorf("failed to store imported feature %s: %w", f.ID, err)
		}
	}
	if len(features) > 0 {
		logx.Infof("imported %d feature definition(s) from %s", len(features), featureDir)
	}
	return nil
}

// recoverOrphans requeues features a previous process left in_progress.
func recoverOrphans(store *persistence.Store) error {
	orphans, err := store.ListByStatus(proto.StatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to scan for orphaned features: %w", err)
	}
	for _, f := range orphans {
		if err := store.Transition(f.ID, proto.StatusInProgress, proto.StatusBacklog); err != nil {
			return fmt.Errorf("failed to requeue orphaned feature %s: %w", f.ID, err)
		}
		logx.Warnf("requeued %s: previous session did not finish", f.ID)
	}
	return nil
}

func buildRunner(agentCfg *config.AgentConfig) (runner.Runner, error) {
	if agentCfg.Command != "" {
		return runner.NewSubprocessRunner(agentCfg.Command, agentCfg.Args, 0), nil
	}

	switch agentCfg.Provider {
	case config.ProviderClaude:
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the claude provider")
		}
		return runneranthropic.New(apiKey, agentCfg.Model), nil
	case config.ProviderCodex:
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the codex provider")
		}
		return runneropenai.New(apiKey, agentCfg.Model), nil
	case config.ProviderMock:
		return runner.NewMockRunner(), nil
	default:
		return nil, fmt.Errorf("unknown agent provider %q", agentCfg.Provider)
	}
}

func metricsRecorder() *metrics.Recorder {
	return metrics.NewRecorder(prometheus.DefaultRegisterer)
}
