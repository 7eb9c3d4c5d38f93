package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	gosundheithttp "github.com/AppsFlyer/go-sundheit/http"
	"github.com/ghodss/yaml"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/authapp/iamcore/command"
	"github.com/authapp/iamcore/gc"
	"github.com/authapp/iamcore/projection"
	"github.com/authapp/iamcore/query"
	"github.com/authapp/iamcore/tokenengine"
)

type serveOptions struct {
	config        string
	telemetryAddr string
}

func commandServe() *cobra.Command {
	options := serveOptions{}

	cmd := &cobra.Command{
		Use:     "serve [flags] [config file]",
		Short:   "Launch iamd",
		Example: "iamd serve config.yaml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			options.config = args[0]
			return runServe(options)
		},
	}

	cmd.Flags().StringVar(&options.telemetryAddr, "telemetry-addr", "", "Telemetry address")
	return cmd
}

func runServe(options serveOptions) error {
	configData, err := os.ReadFile(options.config)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %v", options.config, err)
	}

	var c Config
	if err := yaml.Unmarshal(configData, &c); err != nil {
		return fmt.Errorf("error parsing config file %s: %v", options.config, err)
	}
	if options.telemetryAddr != "" {
		c.Telemetry.HTTP = options.telemetryAddr
	}
	if err := c.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(c.Logger.Level, c.Logger.Format)
	if err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}
	logger.Info("config loaded", "issuer", c.Issuer, "storage_type", c.Storage.Type)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	store, err := c.Storage.Config.Open(logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %v", err)
	}
	defer store.Close()

	dispatcher := command.NewDispatcher(store, logger, reg)
	signer, err := c.Signing.buildSigner()
	if err != nil {
		return fmt.Errorf("build id token signer: %w", err)
	}
	dispatcher.SetIDTokenSigner(signer)
	logger.Info("id token signer ready", "key_id", signer.KeyID())

	rotationInterval, retainFor, err := c.Signing.rotationConfig()
	if err != nil {
		return err
	}
	var rotationDone chan struct{}
	if rotationInterval > 0 {
		rotator := tokenengine.NewKeyRotator(signer, 2048, retainFor)
		dispatcher.SetKeyRotator(rotator)
		rotationDone = make(chan struct{})
		rotator.StartRotation(rotationDone, rotationInterval, func(err error) {
			logger.Error("signing key rotation failed", "error", err)
		})
		logger.Info("signing key rotation enabled", "interval", rotationInterval, "retain_for", retainFor)
	}

	readStore := projection.NewMemoryStore()
	checkpoints := projection.NewMemoryCheckpointStore()

	pollInterval, stallDuration, err := c.Projection.toRuntimeConfig()
	if err != nil {
		return err
	}
	runtime := projection.NewRuntime(store, checkpoints, logger, projection.Config{
		PollInterval:   pollInterval,
		StallThreshold: c.Projection.StallThreshold,
		StallDuration:  stallDuration,
	}, reg)
	queries := query.New(readStore)

	healthChecker := gosundheit.New()
	healthChecker.RegisterCheck(&gosundheit.Config{
		Check:            runtime.HealthCheck(),
		ExecutionPeriod:  15 * time.Second,
		InitiallyPassing: true,
	})

	telemetryRouter := http.NewServeMux()
	telemetryRouter.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	telemetryRouter.Handle("/healthz", gosundheithttp.HandleHealthJSON(healthChecker))

	telemetrySrv := &http.Server{Addr: c.Telemetry.HTTP, Handler: telemetryRouter}
	defer telemetrySrv.Close()

	var gr run.Group

	gr.Add(func() error {
		logger.Info("listening (telemetry)", "addr", c.Telemetry.HTTP)
		return telemetrySrv.ListenAndServe()
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_ = telemetrySrv.Shutdown(ctx)
	})

	projectionCtx, cancelProjections := context.WithCancel(context.Background())
	gr.Add(func() error {
		return runtime.RunAll(projectionCtx, projection.AllTables(readStore),
			instanceLister{queries: queries, fallback: projection.StaticInstances{c.Issuer}})
	}, func(error) {
		cancelProjections()
	})

	gcInterval, err := c.GC.interval()
	if err != nil {
		return err
	}
	sweeper := gc.New(dispatcher, queries, instanceLister{queries: queries, fallback: projection.StaticInstances{c.Issuer}}, logger, gcInterval)
	gcCtx, cancelGC := context.WithCancel(context.Background())
	gr.Add(func() error {
		return sweeper.Run(gcCtx)
	}, func(error) {
		cancelGC()
	})

	gr.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))

	runErr := gr.Run()
	if rotationDone != nil {
		close(rotationDone)
	}
	if runErr != nil {
		if _, ok := runErr.(run.SignalError); !ok {
			return fmt.Errorf("run groups: %w", runErr)
		}
		logger.Info("shutdown signal received", "error", runErr.Error())
	}
	return nil
}

// instanceLister discovers provisioned instances from the instances
// projection once it has caught up at least once; before that (or if the
// table is still empty, e.g. on first boot) it falls back to a fixed set
// so the other projections still have something to poll.
type instanceLister struct {
	queries  *query.Queries
	fallback projection.InstanceLister
}

func (l instanceLister) InstanceIDs(ctx context.Context) ([]string, error) {
	rows := l.queries.ListInstances(ctx)
	if len(rows) == 0 {
		return l.fallback.InstanceIDs(ctx)
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.InstanceID
	}
	return ids, nil
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("log level is not one of the supported values (debug, info, warn, error): %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("log format is not one of the supported values (json, text): %s", format)
	}
}
