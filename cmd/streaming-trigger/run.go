package main

import (
	_c "context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RuiFG/streaming/streaming-trigger/checkpoint"
	"github.com/RuiFG/streaming/streaming-trigger/connector/kafka"
	"github.com/RuiFG/streaming/streaming-trigger/internal/config"
	"github.com/RuiFG/streaming/streaming-trigger/log"
	"github.com/RuiFG/streaming/streaming-trigger/trigger"
	"github.com/RuiFG/streaming/streaming-trigger/window"
	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/uber-go/tally/v4"
	"github.com/uber-go/tally/v4/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const persistedNumMerged = 10

var configDir string

func init() {
	runCommand := &cobra.Command{
		Use:   "run",
		Short: "run the trigger engine",
		Long:  `run the trigger engine until SIGINT or SIGTERM`,
		RunE:  run,
	}
	runCommand.Flags().StringVar(&configDir, "config-dir", "", "directory searched for application.yml before . and ./config/")
	Command.AddCommand(runCommand)
}

func newSaramaConfig(application *config.Kafka) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()
	if application.Version != "" {
		version, err := sarama.ParseKafkaVersion(application.Version)
		if err != nil {
			return nil, errors.WithMessage(err, "illegal kafka version")
		}
		saramaConfig.Version = version
	}
	if application.Oldest {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	return saramaConfig, nil
}

func newLogOptions(application config.Application) (*log.Options, error) {
	encoder, err := log.ParseOutputEncoder(application.Log.Encoder)
	if err != nil {
		return nil, err
	}
	options := log.DefaultOptions().
		WithLevel(log.ParseLevel(application.Log.Level)).
		WithStacktrace(application.Log.Stacktrace).
		WithOutputEncoder(encoder).
		WithTimeLayout(application.Log.TimeLayout).
		WithStdOutput(application.Log.Stdout).
		WithOutputPaths(application.Log.OutputPaths...)
	if application.Debug {
		options = options.WithLevel(log.DebugLevel)
	}
	return options, nil
}

func run(cmd *cobra.Command, _ []string) (err error) {
	var dirs []string
	if configDir != "" {
		dirs = append(dirs, configDir)
	}
	application, err := config.Load(dirs...)
	if err != nil {
		return err
	}
	logOptions, err := newLogOptions(application)
	if err != nil {
		return err
	}
	if err = log.Setup(logOptions); err != nil {
		return err
	}
	logger := log.Global()
	defer logger.Sync()

	reporter := prometheus.NewReporter(prometheus.Options{
		Registerer:               prom.DefaultRegisterer,
		DefaultTimerType:         prometheus.HistogramTimerType,
		DefaultHistogramBuckets:  prometheus.DefaultHistogramBuckets(),
		DefaultSummaryObjectives: prometheus.DefaultSummaryObjectives(),
	})
	scope, scopeCloser := tally.NewRootScope(tally.ScopeOptions{
		Prefix:         "streaming_trigger",
		CachedReporter: reporter,
		Separator:      prometheus.DefaultSeparator,
	}, 3*time.Second)
	defer func() { err = multierr.Append(err, scopeCloser.Close()) }()

	backend, err := checkpoint.NewFSBackend(logger.Named("checkpoint"), application.CheckpointsDir, persistedNumMerged)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, backend.Close()) }()

	assigner, err := window.NewTumblingAssigner(application.Window.Name, application.Window.Size, application.Window.Offset)
	if err != nil {
		return err
	}
	windowLogger := logger.Named("window")
	windowOptions := []window.CountOption{
		window.WithLogger(windowLogger),
		window.WithAllowedLateness(application.Window.AllowedLateness),
		window.WithCheckpointBackend(backend),
		window.WithSink(func(_ _c.Context, result window.Result) error {
			windowLogger.Infow("window result.",
				"instance", result.InstanceId,
				"watermark", result.Watermark,
				"counts", result.Counts)
			return nil
		}),
	}
	if application.Window.MaxGapSecond != nil {
		windowOptions = append(windowOptions, window.WithMaxGapSecond(*application.Window.MaxGapSecond))
	}
	countWindow, err := window.NewCountWindow(assigner, windowOptions...)
	if err != nil {
		return err
	}

	checkpointId := atomic.NewInt64(0)
	persist := func(splits []string) error {
		id := checkpointId.Inc()
		if err := backend.Persist(id); err != nil {
			return errors.WithMessagef(err, "failed to persist checkpoint %d", id)
		}
		logger.Debugw("checkpoint persisted.", "checkpointId", id, "activeSplits", splits)
		return nil
	}
	engine, err := trigger.New(countWindow,
		trigger.WithFireCheckInterval(application.Trigger.FireCheckInterval),
		trigger.WithBatchSize(application.Trigger.BatchSize),
		trigger.WithFlushInterval(application.Trigger.FlushInterval),
		trigger.WithFlushParallelism(application.Trigger.FlushParallelism),
		trigger.WithDrainTimeout(application.Trigger.DrainTimeout),
		trigger.WithScope(scope.SubScope("trigger")),
		trigger.WithLogger(logger.Named("trigger")),
		trigger.WithCheckpoint(application.Trigger.Checkpoint, func(_ _c.Context, splits []string) error {
			return persist(splits)
		}))
	if err != nil {
		return err
	}
	countWindow.Attach(engine)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err = engine.Start(ctx); err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	mux := http.NewServeMux()
	mux.Handle("/metrics", reporter.HTTPHandler())
	server := &http.Server{Addr: application.MetricsListen, Handler: mux}
	eg.Go(func() error {
		logger.Infof("serving %s/metrics", application.MetricsListen)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return errors.WithMessage(err, "metrics server failed")
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, shutdownCancel := _c.WithTimeout(_c.Background(), 5*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})
	if application.Kafka != nil {
		saramaConfig, err := newSaramaConfig(application.Kafka)
		if err != nil {
			cancel()
			return multierr.Append(err, engine.Stop(_c.Background()))
		}
		handler, err := kafka.NewHandler(engine, kafka.WithOffsetBackend(backend), kafka.WithLogger(logger.Named("kafka")))
		if err != nil {
			cancel()
			return multierr.Append(err, engine.Stop(_c.Background()))
		}
		source, err := kafka.NewSource(kafka.Config{
			SaramaConfig: saramaConfig,
			Addresses:    application.Kafka.Addresses,
			Topics:       application.Kafka.Topics,
			GroupId:      application.Kafka.GroupId,
		}, handler, logger.Named("kafka"))
		if err != nil {
			cancel()
			return multierr.Append(err, engine.Stop(_c.Background()))
		}
		eg.Go(func() error {
			runErr := source.Run(egCtx)
			return multierr.Append(runErr, source.Close())
		})
	} else {
		logger.Warn("kafka is not configured, only the trigger engine runs.")
	}

	err = eg.Wait()
	logger.Info("shutting down.")
	stopCtx, stopCancel := _c.WithTimeout(_c.Background(), application.Trigger.DrainTimeout+5*time.Second)
	defer stopCancel()
	err = multierr.Append(err, engine.Stop(stopCtx))
	return multierr.Append(err, persist(engine.Splits()))
}
