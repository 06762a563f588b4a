package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/hwsentry/internal/anomaly"
	"codeberg.org/mutker/hwsentry/internal/config"
	"codeberg.org/mutker/hwsentry/internal/errors"
	"codeberg.org/mutker/hwsentry/internal/logger"
	"codeberg.org/mutker/hwsentry/internal/metrics"
	"codeberg.org/mutker/hwsentry/internal/pipeline"
	"codeberg.org/mutker/hwsentry/internal/sensors"
	"codeberg.org/mutker/hwsentry/internal/store"
	"codeberg.org/mutker/hwsentry/internal/telemetry"
)

const (
	cmdRun     = "run"
	cmdTrain   = "train"
	cmdIssues  = "issues"
	cmdResolve = "resolve"
	cmdSummary = "summary"
	cmdCleanup = "cleanup"

	cmdAnomalies = "anomalies"
	cmdHistory   = "history"
)

// app holds the components shared by all commands.
type app struct {
	cfg       *config.Config
	log       logger.Logger
	repo      *store.Repository
	collector *sensors.Collector
	detector  *anomaly.Detector
	metrics   *metrics.Metrics
	pipeline  *pipeline.Pipeline
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx, cfg); err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.ErrorWithCode(appErr).Msg("Command failed")
		} else {
			logger.Error().Err(err).Msg("Command failed")
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	command, args := cmdRun, cfg.Args
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	a, err := newApp(ctx, cfg, command == cmdRun)
	if err != nil {
		return err
	}
	defer a.close()

	switch command {
	case cmdRun:
		return a.serve(ctx)
	case cmdTrain:
		return a.train(ctx)
	case cmdIssues:
		return a.issues(ctx, args)
	case cmdResolve:
		return a.resolve(ctx, args)
	case cmdSummary:
		return a.summary(ctx)
	case cmdCleanup:
		return a.cleanup(ctx)
	case cmdAnomalies:
		return a.anomalies(ctx, args)
	case cmdHistory:
		return a.history(ctx)
	default:
		return errors.New().WithData(errors.ErrUnknownOp, command)
	}
}

func newApp(ctx context.Context, cfg *config.Config, withSensors bool) (*app, error) {
	log := logger.Default()

	repo, err := store.NewRepository(store.Config{DBPath: cfg.Database}, log)
	if err != nil {
		return nil, err
	}

	detector := anomaly.NewDetector(
		anomaly.DefaultConfig(),
		anomaly.NewFileArtifactStore(cfg.ModelDir),
		repo,
		log,
	)
	if err := detector.Load(ctx); err != nil {
		repo.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		repo:     repo,
		detector: detector,
		metrics:  metrics.New(),
	}

	var source telemetry.Source = noSource{}
	if withSensors {
		sensorCfg := sensors.DefaultConfig()
		sensorCfg.GPU = cfg.Sensors.GPU
		sensorCfg.SimulateFans = cfg.Sensors.SimulateFans
		a.collector = sensors.NewCollector(sensorCfg, log)
		source = a.collector
	}

	a.pipeline = pipeline.New(
		pipeline.Config{
			TrainingSamples: cfg.Training.Samples,
			TrainingTimeout: cfg.Training.TimeoutDuration(),
		},
		source, repo, detector, log,
		pipeline.WithInstrumentation(a.metrics),
	)

	return a, nil
}

func (a *app) close() {
	if a.collector != nil {
		if err := a.collector.Close(); err != nil {
			a.log.Error().Err(err).Msg("Failed to release sensors")
		}
	}
	if err := a.repo.Close(); err != nil {
		a.log.Error().Err(err).Msg("Failed to close database")
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
