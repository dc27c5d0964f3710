package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/t77yq/scash-manager/internal/config"
	"github.com/t77yq/scash-manager/internal/manager"
	"github.com/t77yq/scash-manager/internal/model"
	"github.com/t77yq/scash-manager/internal/monitor"
	"github.com/t77yq/scash-manager/internal/scheduler"
	"github.com/t77yq/scash-manager/internal/service"
	"github.com/t77yq/scash-manager/internal/storage"
)

func main() {
	configPath := pflag.String("config", "", "path to the config file (default $"+config.EnvConfigPath+" or "+config.DefaultConfigPath+")")
	pflag.Parse()

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Run history
	var history storage.RunHistory
	if cfg.Storage.Enabled {
		sqlite, err := storage.NewSQLiteRunHistory(logger, cfg.Storage.Path)
		if err != nil {
			logger.Fatal("Failed to open run history", zap.Error(err))
		}
		defer sqlite.Close()
		history = sqlite
	}

	mgr := manager.New(cfg, logger, manager.Deps{History: history})

	var metrics *monitor.Metrics
	if cfg.Metrics.Enabled {
		metrics = monitor.NewMetrics("scash")
		mgr.Pipeline().OnRecord(func(model.LogRecord) { metrics.IncLogLines() })
	}

	// Optional NATS transport
	var statusPublisher monitor.StatusPublisher
	var control *service.ControlService
	if cfg.NATS.Enabled {
		nc, err := connectNATS(cfg.NATS, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Drain()

		js, err := nc.JetStream()
		if err != nil {
			logger.Fatal("Failed to create JetStream context", zap.Error(err))
		}

		publisher := service.NewPublisher(js, service.DefaultPublishBuffer, logger)
		if err := publisher.Setup(); err != nil {
			logger.Fatal("Failed to set up miner stream", zap.Error(err))
		}
		mgr.Pipeline().OnRecord(publisher.PublishRecord)
		go publisher.Run(ctx)
		statusPublisher = publisher

		control = service.NewControlService(nc, mgr, logger)
		if err := control.Start(ctx); err != nil {
			logger.Fatal("Failed to start control service", zap.Error(err))
		}
	}

	// Periodic jobs
	sampler := scheduler.NewSampler(logger)
	if err := sampler.ScheduleSampling(cfg.Telemetry.SampleSchedule, mgr); err != nil {
		logger.Fatal("Failed to schedule sampling", zap.Error(err))
	}
	if history != nil {
		if err := sampler.ScheduleRetention(cfg.Storage.CleanupSchedule, history, cfg.Storage.Retention); err != nil {
			logger.Fatal("Failed to schedule run history cleanup", zap.Error(err))
		}
	}
	if err := sampler.Start(ctx); err != nil {
		logger.Fatal("Failed to start sampler", zap.Error(err))
	}

	var collector *monitor.MetricsCollector
	if metrics != nil || statusPublisher != nil {
		collector = monitor.NewMetricsCollector(mgr, statusPublisher, metrics, cfg.Metrics.Interval, logger)
		if err := collector.Start(ctx); err != nil {
			logger.Fatal("Failed to start metrics collector", zap.Error(err))
		}
	}

	var metricsServer *http.Server
	if metrics != nil {
		metricsServer = serveMetrics(cfg.Metrics.Listen, metrics, logger)
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- mgr.Run(ctx)
	}()

	logger.Info("Manager started",
		zap.Bool("ready", cfg.Ready()),
		zap.String("impl", cfg.Miner.Impl),
		zap.Bool("nats", cfg.NATS.Enabled),
		zap.Bool("metrics", cfg.Metrics.Enabled))

	<-ctx.Done()

	if err := <-runErr; err != nil {
		logger.Error("Manager exited with error", zap.Error(err))
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if control != nil {
		control.Stop()
	}
	sampler.Stop()
	if collector != nil {
		collector.Stop()
	}

	if err := mgr.Close(); err != nil {
		logger.Error("Failed to stop worker", zap.Error(err))
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shut down metrics server", zap.Error(err))
		}
	}

	logger.Info("Server shutting down gracefully")
}

// connectNATS connects with retry
func connectNATS(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024), // 5MB
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, err)
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// serveMetrics exposes the Prometheus registry on listen
func serveMetrics(listen string, metrics *monitor.Metrics, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", zap.String("listen", listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return srv
}
