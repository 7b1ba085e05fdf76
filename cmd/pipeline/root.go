// Command pipeline runs the telemetry ingestion/analysis service: the
// push-mode HTTP adapter, the cron-driven scheduler, and the worker pool
// that drains every task kind the scheduler and the HTTP adapter enqueue.
// Command-line structure (persistent flags bound to Viper, layered over a
// YAML config file and environment variables) is grounded on cli/root.go.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jaces.io/core/internal/audit"
	"jaces.io/core/internal/envconfig"
	"jaces.io/core/internal/httpapi"
	"jaces.io/core/internal/objectstore"
	"jaces.io/core/internal/observability"
	"jaces.io/core/internal/processor"
	"jaces.io/core/internal/push"
	"jaces.io/core/internal/queue"
	"jaces.io/core/internal/registry"
	"jaces.io/core/internal/scheduler"
	"jaces.io/core/internal/segment"
	"jaces.io/core/internal/store"
	"jaces.io/core/internal/sync"
	"jaces.io/core/internal/workerpool"
)

var cfgFile string

// RootCmd is the pipeline's entry command: running it with no subcommand
// starts the service, the way cli/root.go's RootCmd runs the flow-service
// API by default.
var RootCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Runs the telemetry ingestion and analysis pipeline",
	Run:   runServe,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pipeline.yaml)")
	RootCmd.PersistentFlags().String("registry-path", "", "registry catalog root directory")
	RootCmd.PersistentFlags().String("http-addr", "", "push adapter HTTP listen address")
	RootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	RootCmd.PersistentFlags().String("timezone", "", "default timezone for scheduler cron evaluation and day boundaries")

	viper.BindPFlag("registry_path", RootCmd.PersistentFlags().Lookup("registry-path"))
	viper.BindPFlag("http_addr", RootCmd.PersistentFlags().Lookup("http-addr"))
	viper.BindPFlag("log_level", RootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("timezone", RootCmd.PersistentFlags().Lookup("timezone"))
}

// initConfig discovers and loads an optional YAML config file, the way
// cli/root.go's initConfig does, layered beneath PIPELINE_-prefixed
// environment variables which internal/envconfig reads directly.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pipeline")
	}

	viper.SetEnvPrefix("PIPELINE")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// runServe wires every collaborator package into a running service and
// blocks until SIGINT/SIGTERM, then shuts down in reverse dependency order —
// the same background-serve/signal-wait/graceful-shutdown shape as
// cli/root.go's runServer, generalized from one Echo API to an Echo push
// adapter plus a worker pool and cron scheduler.
func runServe(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	cfg, err := envconfig.LoadAll("PIPELINE")
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	if v := viper.GetString("registry_path"); v != "" {
		cfg.Service.RegistryPath = v
	}
	if v := viper.GetString("http_addr"); v != "" {
		cfg.Service.HTTPAddr = v
	}
	if v := viper.GetString("log_level"); v != "" {
		cfg.Service.LogLevel = v
	}
	if v := viper.GetString("timezone"); v != "" {
		cfg.Service.Timezone = v
	}

	logger := observability.NewLogger(os.Stdout, cfg.Service.Name)
	level, err := zerolog.ParseLevel(cfg.Service.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	location, err := time.LoadLocation(cfg.Service.Timezone)
	if err != nil {
		logger.Warn().Err(err).Str("timezone", cfg.Service.Timezone).Msg("falling back to UTC")
		location = time.UTC
	}

	tracerProvider, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:   cfg.Service.Name,
		Environment:   cfg.Service.Environment,
		OTLPEndpoint:  cfg.Service.OTLPEndpoint,
		Enabled:       cfg.Service.TracingEnabled,
		SamplingRatio: 1.0,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracing")
	}

	reg, err := registry.Load(cfg.Service.RegistryPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load registry")
	}

	objects, err := objectstore.New(ctx, cfg.ObjectStore)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize object store")
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure object store bucket")
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	if err := st.Migrate(); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	q, err := queue.New(ctx, queue.Config{RedisURL: cfg.Queue.RedisURL, KeyPrefix: cfg.Queue.KeyPrefix})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to queue")
	}
	defer q.Close()

	tokens := sync.NewTokenManager()
	orchestrator := sync.NewOrchestrator(tokens, st, objects)
	syncers := buildSyncers(reg, tokens, logger)
	for sourceName, src := range reg.Sources {
		orchestrator.Throttle(sourceName, src.RequestsPerSecond)
	}

	processors := processor.NewRegistry()
	processors.Register("google_calendar", &processor.GoogleCalendarProcessor{})
	processors.Register("ios_location", &processor.IOSLocationProcessor{})

	pushAdapter := push.New(st, objects)

	segmenter := segment.New(reg.DaySegmentPolicy, location)

	metrics := observability.NewMetrics("pipeline")
	auditMetrics := audit.NewMetrics("pipeline")
	auditMetrics.Register(prometheus.DefaultRegisterer)

	var publisher audit.Publisher
	if cfg.Service.AMQPURL != "" {
		amqpPublisher, err := audit.NewAMQPPublisher(cfg.Service.AMQPURL, cfg.Service.AuditQueueName)
		if err != nil {
			logger.Warn().Err(err).Msg("audit event publishing disabled: could not connect to amqp")
		} else {
			publisher = amqpPublisher
			defer amqpPublisher.Close()
		}
	}
	recorder := audit.NewRecorder(st, publisher, auditMetrics)

	sched := scheduler.New(reg, st, q, location, logger)

	handler := &taskHandler{
		reg: reg, st: st, objects: objects, q: q,
		orchestrator: orchestrator, tokens: tokens, syncers: syncers,
		processors: processors, segmenter: segmenter, recorder: recorder,
		metrics: metrics, scheduler: sched, logger: logger, location: location,
	}

	pool := workerpool.New(q, handler, workerpool.DefaultConfig(), logger)
	pool.Start(ctx)

	if err := sched.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}

	e := httpapi.New(pushAdapter, q, prometheus.DefaultGatherer)
	go func() {
		logger.Info().Str("addr", cfg.Service.HTTPAddr).Msg("push adapter listening")
		if err := e.Start(cfg.Service.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("push adapter failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("push adapter shutdown error")
	}
	sched.Stop()
	pool.Stop()
	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown error")
		}
	}
}

// buildSyncers constructs every concrete Syncer this pipeline ships for
// pull-mode sources found in the registry, handing each the shared token
// manager. It registers no OAuth config with the token manager (the OAuth
// consent flow is owned by the collaborator web frontend, out of scope
// here), so a syncer's token lookup fails until RegisterSource has been
// called for its source. Sources with no matching concrete syncer are simply
// absent from the map; handleSyncStream's lookup miss fails that sync task
// with an error rather than crashing the process.
func buildSyncers(reg *registry.Registry, tokens *sync.TokenManager, logger zerolog.Logger) map[string]sync.Syncer {
	syncers := make(map[string]sync.Syncer)

	if src, ok := reg.Sources["google_calendar"]; ok && src.SyncMode == registry.SyncModePull {
		var calendarIDs []string
		for _, stream := range reg.StreamsForSource("google_calendar") {
			if ids, ok := stream.Settings["calendar_ids"].([]interface{}); ok {
				for _, id := range ids {
					if s, ok := id.(string); ok {
						calendarIDs = append(calendarIDs, s)
					}
				}
			}
		}
		if len(calendarIDs) == 0 {
			calendarIDs = []string{"primary"}
		}
		syncers["google_calendar"] = sync.NewGoogleCalendarSyncer(http.DefaultClient, tokens, calendarIDs, nil)
		logger.Info().Strs("calendars", calendarIDs).Msg("registered google_calendar syncer")
	}

	return syncers
}
