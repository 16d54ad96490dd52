package consumerd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"agoranet/evaluator"
	"agoranet/observability/logging"
	telemetry "agoranet/observability/otel"
	"agoranet/registryclient"
	"agoranet/solana"
	"agoranet/x402"
)

// Main runs one procurement and prints the outcome as JSON on stdout. The
// process exits non-zero unless the run ended with a delivered result.
func Main() error {
	var profilePath string
	flag.StringVar(&profilePath, "profile", "", "path to the consumer run profile")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("AGORANET_ENV"))
	logger := logging.Setup("consumerd", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "consumerd",
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

	cfg, err := LoadConfig(profilePath)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := registryclient.New(cfg.RegistryURL)
	rpc := solana.NewClient(cfg.RPCURL)
	builder := solana.NewBuilder(rpc)

	payerKey, err := solana.ParsePublicKey(cfg.WalletAddress)
	if err != nil {
		return fmt.Errorf("wallet address: %w", err)
	}
	payerOpts := []x402.ClientOption{x402.WithNetwork(cfg.Network)}
	if cfg.WalletPrivateKey != "" {
		signingKey, err := solana.ParsePrivateKey(cfg.WalletPrivateKey)
		if err != nil {
			return fmt.Errorf("wallet private key: %w", err)
		}
		payerOpts = append(payerOpts, x402.WithSigner(signingKey))
	} else {
		logger.Warn("no wallet private key set, transactions will be sent unsigned", "agent_id", cfg.AgentID)
	}
	payer := x402.NewClient(payerKey, builder, payerOpts...)

	var eval evaluator.Evaluator
	deterministic := evaluator.NewDeterministic(evaluator.DefaultWeights)
	if cfg.ModelEnabled() {
		eval = &evaluator.WithFallback{
			Primary: evaluator.NewModel(evaluator.ModelConfig{
				BaseURL: cfg.Evaluator.BaseURL,
				APIKey:  cfg.ModelAPIKey,
				Model:   cfg.Evaluator.Model,
				Timeout: cfg.Evaluator.Timeout.Duration,
			}),
			Fallback: deterministic,
		}
		logger.Info("model evaluator enabled", "outcome", cfg.Evaluator.Model)
	} else {
		eval = deterministic
	}

	dsn, err := FileDSN(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("journal path: %w", err)
	}
	journal, err := OpenJournal(dsn)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		_ = journal.Close()
	}()

	runner := NewRunner(cfg, registry, payer, eval, journal, WithRunnerLogger(logger))
	result := runner.Run(ctx)

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("procurement failed: %s", result.ErrorKind)
	}
	return nil
}
