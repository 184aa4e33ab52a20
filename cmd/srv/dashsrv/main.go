package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"syscall"
	"time"

	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"
	humanize "github.com/dustin/go-humanize"
	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-dash/pkg/config"
	"github.com/core-tools/hsu-dash/pkg/container"
	"github.com/core-tools/hsu-dash/pkg/engine"
	"github.com/core-tools/hsu-dash/pkg/logging"
	"github.com/core-tools/hsu-dash/pkg/metrics"
	"github.com/core-tools/hsu-dash/pkg/state"
	"github.com/core-tools/hsu-dash/pkg/supervisor"
	"github.com/core-tools/hsu-dash/pkg/telemetry"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

type flagOptions struct {
	Config         string        `long:"config" short:"c" description:"path to the unit file" required:"true"`
	LogLevel       string        `long:"log-level" description:"overrides dashboard.log_level"`
	LogFormat      string        `long:"log-format" description:"console or json" default:"console"`
	Logger         string        `long:"logger" description:"logging backend, zap or sprintf" default:"zap"`
	MetricsAddress string        `long:"metrics-addr" description:"overrides dashboard.metrics_address, \"off\" disables the endpoint"`
	RunDuration    int           `long:"run-duration" description:"Duration in seconds to run the dashboard (debug feature)"`
	Fake           bool          `long:"fake" description:"drive every unit with the synthetic engine"`
	Tick           time.Duration `long:"tick" description:"synthetic engine tick" default:"500ms"`
	Report         time.Duration `long:"report" description:"interval between status reports, 0 disables them" default:"10s"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfigFromFile(opts.Config)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if opts.LogLevel != "" {
		cfg.Dashboard.LogLevel = opts.LogLevel
	}
	if opts.MetricsAddress != "" {
		cfg.Dashboard.MetricsAddress = opts.MetricsAddress
	}

	logger, flush, err := newLogger(opts, cfg.Dashboard.LogLevel)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer flush()

	if err := run(opts, cfg, logger); err != nil {
		logger.Errorf("Dashboard failed: %v", err)
		flush()
		os.Exit(1)
	}
}

func newLogger(opts flagOptions, level string) (logging.Logger, func(), error) {
	switch opts.Logger {
	case "sprintf":
		std := sprintfLogging.NewStdSprintfLogger()
		return logging.NewLogger(logging.ModulePrefix("hsu-dash"), logging.LogFuncs{
			Debugf: std.Debugf,
			Infof:  std.Infof,
			Warnf:  std.Warnf,
			Errorf: std.Errorf,
		}), func() {}, nil
	case "zap", "":
		zapConfig := logging.DefaultZapConfig()
		zapConfig.Level = level
		zapConfig.Format = opts.LogFormat
		backend, err := logging.NewZapBackend(zapConfig)
		if err != nil {
			return nil, nil, err
		}
		return backend.Logger(logging.ModulePrefix("hsu-dash")), func() { _ = backend.Sync() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown logger backend %q", opts.Logger)
	}
}

func run(opts flagOptions, cfg *config.Config, logger logging.Logger) error {
	logger.Infof("opts: %+v", opts)

	graph, err := config.BuildGraph(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := newRegistry(ctx, opts, cfg, logger)
	if err != nil {
		return err
	}

	telemetryMetrics := telemetry.New()
	sup, err := supervisor.New(graph, registry, cfg.SupervisorOptions(), telemetryMetrics, logger)
	if err != nil {
		return err
	}

	server := serveMetrics(cfg.Dashboard.MetricsAddress, telemetryMetrics, logger)

	if err := sup.Start(ctx); err != nil {
		return err
	}
	logger.Infof("Dashboard started, units: %d, order: %v", graph.Len(), graph.StartOrder())

	var runCtx context.Context = ctx
	if opts.RunDuration > 0 {
		logger.Infof("Using RUN DURATION of %d seconds", opts.RunDuration)
		var runCancel context.CancelFunc
		runCtx, runCancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer runCancel()
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	var report <-chan time.Time
	if opts.Report > 0 {
		ticker := time.NewTicker(opts.Report)
		defer ticker.Stop()
		report = ticker.C
	}

loop:
	for {
		select {
		case receivedSignal := <-sig:
			logger.Infof("Dashboard received signal: %v", receivedSignal)
			break loop
		case <-runCtx.Done():
			logger.Infof("Dashboard run duration elapsed")
			break loop
		case <-report:
			snapshot, err := sup.Snapshot(ctx)
			if err != nil {
				logger.Warnf("Failed to take snapshot: %v", err)
				continue
			}
			logReport(logger, snapshot)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Dashboard.ShutdownGrace)
	defer shutdownCancel()

	shutdownErr := sup.Shutdown(shutdownCtx)
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Failed to stop metrics server: %v", err)
		}
	}
	logger.Infof("Dashboard stopped")
	return shutdownErr
}

func newRegistry(ctx context.Context, opts flagOptions, cfg *config.Config, logger logging.Logger) (*engine.Registry, error) {
	if opts.Fake {
		processFake := engine.NewFakeEngine(unit.KindProcess, engine.Script{})
		containerFake := engine.NewFakeEngine(unit.KindContainer, engine.Script{})
		go processFake.Run(ctx, opts.Tick)
		go containerFake.Run(ctx, opts.Tick)
		logger.Infof("Using synthetic engines, tick: %v", opts.Tick)
		return engine.NewRegistry(processFake, containerFake), nil
	}

	classifier, err := cfg.Classifier()
	if err != nil {
		return nil, err
	}
	processEngine, err := engine.NewProcessEngine(classifier, logger)
	if err != nil {
		return nil, err
	}
	client := container.NewClient(cfg.Container, nil, logger)
	containerEngine := engine.NewContainerEngine(client, classifier, logger)
	if cfg.Container.RemoveOrphans {
		removed, err := containerEngine.RemoveOrphans(ctx)
		if err != nil {
			logger.Warnf("Failed to remove orphaned containers: %v", err)
		}
		logger.Infof("Orphaned containers removed: %d", removed)
	}
	return engine.NewRegistry(processEngine, containerEngine), nil
}

func serveMetrics(address string, telemetryMetrics *telemetry.Metrics, logger logging.Logger) *http.Server {
	if address == config.MetricsDisabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetryMetrics.Handler())
	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("Serving metrics, address: %s", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server failed: %v", err)
		}
	}()
	return server
}

func logReport(logger logging.Logger, snapshot state.Snapshot) {
	now := time.Now()
	counts := snapshot.CountByStatus()
	statuses := make([]string, 0, len(counts))
	for status, n := range counts {
		statuses = append(statuses, fmt.Sprintf("%s=%d", status, n))
	}
	sort.Strings(statuses)
	logger.Infof("Status report, units: %v, jobs: %d, dropped: %d", statuses, len(snapshot.Jobs), snapshot.Dropped)

	for _, u := range snapshot.Units {
		health := "-"
		if u.Unhealthy {
			health = "unhealthy"
		} else if len(u.HealthResults) > 0 {
			health = "healthy"
		}
		logger.Infof("Unit %s, status: %s, health: %s, uptime: %v, cpu: %.1f%%, mem: %s, restarts: %d, logs: %d",
			u.ID, u.Status, health, u.Uptime(now).Truncate(time.Second),
			u.LatestMetric(metrics.KindCPU),
			humanize.IBytes(uint64(u.LatestMetric(metrics.KindMemory))),
			u.RestartCount, u.LogsTotal)
	}
}
