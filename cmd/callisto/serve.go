package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/inference"
	"mercator-hq/callisto/pkg/model"
	"mercator-hq/callisto/pkg/server"
	"mercator-hq/callisto/pkg/telemetry/audit"
	"mercator-hq/callisto/pkg/telemetry/logging"
	"mercator-hq/callisto/pkg/telemetry/metrics"
)

var serveFlags struct {
	listenAddress string
	logLevel      string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the inference server",
	Long: `Start the inference server with configuration from the environment
(and an optional config file layered beneath it).

Examples:
  # Serve with environment configuration
  MODEL_NAME=churn MODEL_VERSION=3 callisto serve

  # Serve with a config file, env still wins
  callisto serve --config /etc/callisto/config.yaml

  # Override listen address
  callisto serve --listen 0.0.0.0:9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Flags outrank file and environment.
	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	if serveFlags.logLevel != "" {
		cfg.Logging.Level = serveFlags.logLevel
	}

	logging.Setup(cfg.Logging.Level)

	backend := model.NewDemoBackend(cfg.Model.URI)
	if err := backend.Load(); err != nil {
		// Keep serving so /health stays green and /ready reports the
		// failure, matching probe-driven deployments.
		slog.Error("model load failed, serving unloaded", "error", err)
	}

	var sink audit.Sink
	var scheduler *audit.Scheduler
	if cfg.Audit.Enabled && cfg.Audit.DBPath != "" {
		sqlSink, err := audit.NewSQLiteSink(cfg.Audit.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open audit sink: %w", err)
		}
		sink = sqlSink

		scheduler = audit.NewScheduler(sqlSink, cfg.Audit.PruneSchedule,
			time.Duration(cfg.Audit.RetentionDays)*24*time.Hour)
		if err := scheduler.Start(); err != nil {
			return err
		}
		defer scheduler.Stop()
	}
	trail := audit.NewTrail(cfg.Audit.Enabled, sink)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(cfg.Model.Name, cfg.Model.Version, registry)

	classifier := inference.Classifier{
		IncludeInternal: logging.ParseLevel(cfg.Logging.Level) == slog.LevelDebug,
	}

	gate := inference.NewGate(cfg.Auth.APIKey)
	validator := inference.NewValidator(inference.Limits{
		MaxBatchSize: cfg.Limits.MaxBatchSize,
		MaxFeatures:  cfg.Limits.MaxFeatures,
	})

	pipeline := inference.NewPipeline(inference.PipelineOptions{
		Backend:        backend,
		Validator:      validator,
		Collector:      collector,
		Trail:          trail,
		Classifier:     classifier,
		ModelName:      cfg.Model.Name,
		ModelVersion:   cfg.Model.Version,
		PredictTimeout: cfg.Server.PredictTimeout,
	})

	srv := server.New(server.Options{
		Config:     cfg,
		Gate:       gate,
		Pipeline:   pipeline,
		Backend:    backend,
		Trail:      trail,
		Registry:   registry,
		Classifier: classifier,
	})

	// With a config file in play, pick up runtime-tunable knobs on change.
	if cfgFile != "" {
		watcher, err := config.NewWatcher(cfgFile, srv.ApplyRuntimeConfig)
		if err != nil {
			slog.Warn("config watcher unavailable", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	return srv.Start(context.Background())
}
