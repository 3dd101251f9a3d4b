package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/careops/surveyci/internal/approval"
	"github.com/careops/surveyci/internal/config"
	"github.com/careops/surveyci/internal/db"
	"github.com/careops/surveyci/internal/notify"
	"github.com/careops/surveyci/internal/orchestrator"
	"github.com/careops/surveyci/internal/pipeline"
	"github.com/careops/surveyci/internal/step"
	"github.com/careops/surveyci/internal/telemetry"
	"github.com/careops/surveyci/internal/trigger"
	"github.com/careops/surveyci/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline server",
	Long: `Start the long-running pipeline server: the HTTP API for triggers and
approvals, configured cron schedules, prometheus metrics on /metrics, and
postgres-backed run history.

Postgres is optional; without it the server keeps run state in
~/.surveyci/runs only.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		cfgPath, _ := cmd.Flags().GetString("config")
		noDB, _ := cmd.Flags().GetBool("no-db")

		logger := telemetry.SetupLogger()

		cfg, err := loadConfig(cfgPath)
		if err != nil {
			return err
		}
		store, err := pipeline.DefaultStore()
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var events orchestrator.EventLog
		startBuild := 0
		if !noDB {
			database, err := db.Open(ctx, db.DefaultDSN())
			if err != nil {
				logger.Warn("postgres unavailable, history disabled", "error", err)
			} else {
				defer database.Close()
				if err := database.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				if startBuild, err = database.MaxBuildNumber(ctx); err != nil {
					return fmt.Errorf("seed build counter: %w", err)
				}
				events = database
			}
		}

		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics := telemetry.NewMetrics(registry)

		broker := approval.NewBroker()
		sinks := buildSinks(&cfg.Pipeline, logger)
		defer closeSinks(sinks, logger)

		orc := orchestrator.New(orchestrator.Config{
			Pipeline:  &cfg.Pipeline,
			Store:     store,
			Steps:     step.NewRunner(&step.ExecRunner{}),
			Approvals: broker,
			Notifier:  notify.NewFanout(logger, sinks...),
			Events:    events,
			Metrics:   metrics,
			Logger:    logger,
		})
		manager := orchestrator.NewManager(orc, startBuild, logger)

		scheduler, err := trigger.NewScheduler(cfg.Pipeline.Schedules, func(tr trigger.Trigger) {
			if _, err := manager.Submit(tr); err != nil {
				logger.Warn("scheduled trigger rejected", "branch", tr.Branch, "error", err)
			}
		}, logger)
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		scheduler.Start()

		server := web.NewServer(web.Config{
			Addr:     addr,
			Manager:  manager,
			Store:    store,
			Broker:   broker,
			Registry: registry,
			Logger:   logger,
		})

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start() }()

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
		case err := <-errCh:
			return err
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		scheduler.Stop()
		manager.Shutdown()
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Pipeline config path (default: pipeline.yaml)")
	serveCmd.Flags().Bool("no-db", false, "Disable postgres history")
}

// buildSinks assembles the notification sinks from config. The log sink
// is always first.
func buildSinks(p *config.Pipeline, logger *slog.Logger) []notify.Notifier {
	sinks := []notify.Notifier{&notify.LogNotifier{Logger: logger}}

	if p.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(p.Notify.WebhookURL))
	}
	if p.Notify.AMQPURL != "" {
		amqpSink, err := notify.NewAMQPNotifier(p.Notify.AMQPURL, p.Notify.AMQPExchange, logger)
		if err != nil {
			logger.Warn("amqp sink unavailable", "error", err)
		} else {
			sinks = append(sinks, amqpSink)
		}
	}
	return sinks
}

func closeSinks(sinks []notify.Notifier, logger *slog.Logger) {
	for _, s := range sinks {
		if closer, ok := s.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				logger.Warn("close notification sink", "error", err)
			}
		}
	}
}
