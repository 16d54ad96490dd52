package registryd

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"agoranet/market"
	"agoranet/observability/audit"
	"agoranet/observability/httpmw"
	"agoranet/observability/logging"
	telemetry "agoranet/observability/otel"
)

// Main initialises and runs the registry daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to registryd configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("AGORANET_ENV"))
	logger := logging.Setup("registryd", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "registryd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store := market.NewStore()
	sweeper := market.NewSweeper(store,
		market.WithInterval(cfg.SweepInterval.Duration),
		market.WithLogger(logger),
	)
	limiter := httpmw.NewRateLimiter(map[string]httpmw.RateLimit{
		"write": {RequestsPerMinute: cfg.WriteLimit.RequestsPerMinute, Burst: cfg.WriteLimit.Burst},
	}, logger)
	obs := httpmw.NewObservability(httpmw.Config{
		ServiceName:   "registryd",
		MetricsPrefix: "registry",
		LogRequests:   cfg.LogRequests,
	}, logger)
	trail := audit.NewTrail(cfg.AuditPath)
	defer func() { _ = trail.Close() }()

	server := NewServer(store,
		WithLogger(logger),
		WithObservability(obs),
		WithRateLimiter(limiter),
		WithAudit(trail),
	)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() { _ = sweeper.Run(stopCtx) }()
	go func() { _ = limiter.Run(stopCtx) }()

	errs := make(chan error, 1)
	go func() {
		logger.Info("registryd listening", "addr", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
