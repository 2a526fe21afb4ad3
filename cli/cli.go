// Package cli wires the bridge's command-line entry points.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/fogha/raiken-sub000/internal/analyze"
	"github.com/fogha/raiken-sub000/internal/bridge"
	"github.com/fogha/raiken-sub000/internal/config"
	"github.com/fogha/raiken-sub000/internal/history"
	"github.com/fogha/raiken-sub000/internal/project"
	"github.com/fogha/raiken-sub000/internal/report"
	"github.com/fogha/raiken-sub000/internal/runner"
	"github.com/fogha/raiken-sub000/internal/session"
	"github.com/fogha/raiken-sub000/internal/testfiles"
	"github.com/fogha/raiken-sub000/internal/transport/direct"
	"github.com/fogha/raiken-sub000/internal/transport/relay"
	"github.com/fogha/raiken-sub000/internal/watch"
)

const AppName = "raiken-bridge"

// App is the command-line front end.
type App struct {
	logger zerolog.Logger
	cli    *cli.App
}

// New builds the CLI with the serve and relay commands.
func New() *App {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger := log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Local agent that runs browser tests on behalf of the web platform",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}

	app.cli.Commands = []*cli.Command{
		{
			Name:   "serve",
			Usage:  "Run the direct-mode HTTP server for same-machine platforms",
			Action: app.serve,
		},
		{
			Name:   "relay",
			Usage:  "Connect outbound to the cloud relay and answer remote commands",
			Action: app.relay,
		},
	}
	return app
}

// SetVersion records build metadata for --version.
func (a *App) SetVersion(version, commit string) {
	a.cli.Version = fmt.Sprintf("%s (%s)", version, commit)
}

// Run executes the CLI.
func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// deps is everything both transports share.
type deps struct {
	cfg     *config.Config
	handler *bridge.Handler
	ledger  *history.Ledger
	run     *runner.Runner
}

func (a *App) buildDeps() (*deps, error) {
	cfg := config.Load()
	applyLogLevel(cfg.LogLevel)

	if err := project.EnsureTestDirectory(cfg.ProjectRoot, cfg.TestDir); err != nil {
		a.logger.Warn().Err(err).Msg("could not create test directory")
	}

	files := testfiles.NewStore(cfg.ProjectRoot, cfg.TestDir)
	run := runner.New(runner.Options{
		ProjectRoot:      cfg.ProjectRoot,
		TestDir:          cfg.TestDir,
		ReportsDir:       cfg.AbsReportsDir(),
		Bin:              cfg.RunnerBin,
		BaseArgs:         cfg.RunnerArgs,
		PreflightTimeout: cfg.PreflightTimeout,
		GracePeriod:      cfg.GracePeriod,
		HardTimeout:      cfg.HardTimeout,
	}, files, a.logger)

	reports := report.NewStore(cfg.AbsReportsDir())

	var analyzer report.Analyzer
	if cfg.AIEnabled && cfg.AIAPIKey != "" {
		analyzer = analyze.NewClient(cfg.AIAPIURL, cfg.AIAPIKey, cfg.AIModel, cfg.AITimeout, a.logger)
		a.logger.Info().Str("model", cfg.AIModel).Msg("AI analysis enabled")
	}
	caps := report.DefaultCaps()
	if cfg.AIMaxErrors > 0 {
		caps.MaxErrors = cfg.AIMaxErrors
	}
	if cfg.AIMaxLogLines > 0 {
		caps.MaxLogLines = cfg.AIMaxLogLines
	}
	assembler := report.NewAssembler(cfg.ProjectRoot, reports, analyzer, caps, cfg.AIMaxOutput, a.logger)

	// History is best-effort; a broken database never blocks execution.
	// The data directory must exist before sqlite can create the file.
	if err := os.MkdirAll(filepath.Dir(cfg.AbsReportsDir()), 0o755); err != nil {
		a.logger.Warn().Err(err).Msg("could not create data directory")
	}
	ledger, err := history.Open(cfg.HistoryDSN)
	if err != nil {
		a.logger.Warn().Err(err).Msg("execution history unavailable")
		ledger = nil
	}

	handler := bridge.New(files, run, assembler, reports, ledger, a.logger)
	return &deps{cfg: cfg, handler: handler, ledger: ledger, run: run}, nil
}

func (a *App) serve(_ *cli.Context) error {
	d, err := a.buildDeps()
	if err != nil {
		return err
	}
	defer closeLedger(d.ledger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.warnIfRunnerMissing(ctx, d.run)

	sess, err := session.Issue()
	if err != nil {
		return fmt.Errorf("issue session: %w", err)
	}

	info := project.Detect(d.cfg.ProjectRoot, d.cfg.TestDir)
	a.logger.Info().Str("project", info.Name).Str("type", info.Type).Msg("project detected")

	srv := direct.NewServer(direct.Options{
		Port:            d.cfg.HTTPPort,
		PortAttempts:    d.cfg.PortAttempts,
		BasePath:        d.cfg.BasePath,
		ProjectRoot:     d.cfg.ProjectRoot,
		ExtraOrigins:    d.cfg.ExtraOrigins,
		ResponseTimeout: d.cfg.ResponseTimeout,
	}, sess, d.handler, info, a.logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *App) relay(_ *cli.Context) error {
	d, err := a.buildDeps()
	if err != nil {
		return err
	}
	defer closeLedger(d.ledger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.warnIfRunnerMissing(ctx, d.run)

	client := relay.New(relay.Options{
		URL:              d.cfg.RelayURL,
		SessionID:        d.cfg.RelaySessionID,
		HandshakeTimeout: d.cfg.RelayHandshake,
		PingInterval:     d.cfg.RelayPingEvery,
		ReconnectDelay:   d.cfg.ReconnectDelay,
		ReconnectMax:     d.cfg.ReconnectMaxWait,
	}, d.handler, a.logger)

	// The platform pairs on this id; print it where the user can see it.
	fmt.Printf("Relay session: %s\n", client.SessionID())

	watcher := watch.New(d.cfg.AbsTestDir(), 500*time.Millisecond, func() {
		client.Notify(relay.MethodFilesChanged, map[string]any{"dir": d.cfg.TestDir})
	}, a.logger)
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn().Err(err).Msg("file watcher stopped")
		}
	}()

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (a *App) warnIfRunnerMissing(ctx context.Context, run *runner.Runner) {
	if err := run.Preflight(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("test runner not available; executions will fail until it is installed")
	}
}

func closeLedger(l *history.Ledger) {
	if l != nil {
		l.Close()
	}
}

func applyLogLevel(level string) {
	if parsed, err := zerolog.ParseLevel(level); err == nil && parsed != zerolog.NoLevel {
		if zerolog.GlobalLevel() != zerolog.DebugLevel {
			zerolog.SetGlobalLevel(parsed)
		}
	}
}
