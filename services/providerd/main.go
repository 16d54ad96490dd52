package providerd

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

	"agoranet/evaluator"
	"agoranet/market"
	"agoranet/observability/httpmw"
	"agoranet/observability/logging"
	telemetry "agoranet/observability/otel"
	"agoranet/registryclient"
	"agoranet/solana"
)

// Main initialises and runs the provider daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to providerd configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("AGORANET_ENV"))
	logger := logging.Setup("providerd", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "providerd",
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

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := registryclient.New(cfg.RegistryURL)
	if err := announce(stopCtx, registry, cfg); err != nil {
		return err
	}
	logger.Info("registered with registry",
		"agent_id", cfg.AgentID,
		"task_type", strings.Join(cfg.TaskTypes, ","),
	)

	rpc := solana.NewClient(cfg.RPCURL)
	obs := httpmw.NewObservability(httpmw.Config{
		ServiceName:   "providerd",
		MetricsPrefix: "provider",
		LogRequests:   cfg.LogRequests,
	}, logger)
	server, err := NewServer(cfg, rpc,
		WithServerLogger(logger),
		WithServerObservability(obs),
	)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	policy := evaluator.NewDeterministic(evaluator.DefaultWeights)
	poller := NewPoller(cfg, registry, policy, WithPollerLogger(logger))

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() { _ = poller.Run(stopCtx) }()
	go func() { _ = server.ReplayCache().Run(stopCtx) }()

	errs := make(chan error, 1)
	go func() {
		logger.Info("providerd listening", "addr", cfg.ListenAddress)
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

// announce registers the provider with the registry and subscribes it to its
// task types so RFP broadcasts reach it.
func announce(ctx context.Context, registry *registryclient.Client, cfg Config) error {
	regCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	agent := &market.Agent{
		AgentID:       cfg.AgentID,
		Name:          cfg.AgentName,
		AgentType:     market.AgentTypeDataProvider,
		EndpointURL:   cfg.EndpointURL,
		WalletAddress: cfg.WalletAddress,
		Capabilities:  cfg.TaskTypes,
		Pricing:       cfg.Pricing,
	}
	if _, err := registry.RegisterAgent(regCtx, agent); err != nil {
		return fmt.Errorf("register with registry: %w", err)
	}
	for _, task := range cfg.TaskTypes {
		if err := registry.Subscribe(regCtx, cfg.AgentID, task); err != nil {
			return fmt.Errorf("subscribe to %s rfps: %w", task, err)
		}
	}
	return nil
}
