// tether-probe connects to a broker with the tether resilience layer and
// exposes the pool's state over HTTP. It is an operational smoke-test tool:
// point it at a broker, watch /healthz and /metrics while the broker
// restarts, and verify that consumers come back.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	tether "github.com/glimte/tether-go"
	"github.com/glimte/tether-go/health"
	"github.com/glimte/tether-go/metrics"
	"github.com/glimte/tether-go/supervisor"
)

func main() {
	logger := setupLogger()
	logger.Info("starting tether-probe")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := configFromEnv()
	client := tether.NewClient(cfg, tether.WithLogger(logger))

	collector, err := metrics.NewCollector(client.Pool(), nil)
	if err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	handlers := probeHandlers(logger)
	conn, err := client.Consume(ctx, handlers...)
	if err != nil {
		// The connection is parked in the dead set; keep serving so an
		// operator can revive it once the broker is reachable.
		logger.Warn("initial connect failed", "error", err)
	} else {
		conn.AddStateListener(collector)
		if err := client.RegisterPublisher(conn); err != nil {
			logger.Warn("publisher exchange check failed", "error", err)
		}
	}

	checker := health.NewPoolChecker(client.Pool())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if result.Status != health.StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(result)
	})

	srv := &http.Server{
		Addr:    listenAddr(),
		Handler: mux,
	}

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	client.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "DEBUG" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func configFromEnv() supervisor.Config {
	cfg := supervisor.Config{
		Server:            envOr("RABBITMQ_HOST", "localhost"),
		Port:              envInt("RABBITMQ_PORT", 5672),
		Username:          envOr("RABBITMQ_USER", "guest"),
		Password:          envOr("RABBITMQ_PASS", "guest"),
		VHost:             envOr("RABBITMQ_VHOST", "/"),
		PublisherExchange: os.Getenv("RABBITMQ_EXCHANGE"),
	}
	if sec := envInt("RABBITMQ_HEARTBEAT", 0); sec > 0 {
		cfg.Heartbeat = time.Duration(sec) * time.Second
	}
	return cfg
}

func probeHandlers(logger *slog.Logger) []supervisor.HandlerDescriptor {
	queue := os.Getenv("PROBE_QUEUE")
	if queue == "" {
		return nil
	}

	prefetch := envInt("PROBE_PREFETCH", 1)
	return []supervisor.HandlerDescriptor{{
		Queue:         queue,
		PrefetchCount: prefetch,
		OnMessage: func(ctx context.Context, d supervisor.Delivery) error {
			logger.Info("probe delivery", "queue", queue, "bytes", len(d.Body()))
			return nil
		},
	}}
}

func listenAddr() string {
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		return addr
	}
	return ":8081"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
