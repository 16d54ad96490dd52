package facilitatord

import (
	"fmt"
	"os"
	"strings"

	"agoranet/solana"
)

// Config is assembled from the environment only; the facilitator is meant
// to run as a thin sidecar with no config file.
type Config struct {
	ListenAddress   string
	KoraURL         string
	FeePayer        string
	Network         string
	SupportedTokens []string
}

// FromEnv reads the facilitator settings from the environment, applying
// defaults and validating the fee payer address.
func FromEnv() (Config, error) {
	cfg := Config{
		ListenAddress: strings.TrimSpace(os.Getenv("FACILITATOR_LISTEN")),
		KoraURL:       strings.TrimSpace(os.Getenv("KORA_RPC_URL")),
		FeePayer:      strings.TrimSpace(os.Getenv("FACILITATOR_FEE_PAYER")),
		Network:       strings.TrimSpace(os.Getenv("FACILITATOR_NETWORK")),
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":3000"
	}
	if cfg.KoraURL == "" {
		cfg.KoraURL = "http://localhost:8080"
	}
	if cfg.Network == "" {
		cfg.Network = "solana-devnet"
	}
	if tokens := strings.TrimSpace(os.Getenv("FACILITATOR_SUPPORTED_TOKENS")); tokens != "" {
		for _, token := range strings.Split(tokens, ",") {
			if token = strings.TrimSpace(token); token != "" {
				cfg.SupportedTokens = append(cfg.SupportedTokens, token)
			}
		}
	} else {
		cfg.SupportedTokens = []string{solana.DevnetUSDCMint.String()}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !strings.Contains(c.ListenAddress, ":") {
		return fmt.Errorf("listen address %q must include a port", c.ListenAddress)
	}
	if c.FeePayer == "" {
		return fmt.Errorf("FACILITATOR_FEE_PAYER must be set to the Kora signer address")
	}
	if _, err := solana.ParsePublicKey(c.FeePayer); err != nil {
		return fmt.Errorf("parse fee payer address: %w", err)
	}
	for _, token := range c.SupportedTokens {
		if _, err := solana.ParsePublicKey(token); err != nil {
			return fmt.Errorf("parse supported token %q: %w", token, err)
		}
	}
	return nil
}
