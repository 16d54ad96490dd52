package providerd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs accept human readable values
// such as "3s" or "500ms".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config captures the provider daemon settings.
type Config struct {
	AgentID        string             `yaml:"agent_id"`
	AgentName      string             `yaml:"agent_name"`
	EndpointURL    string             `yaml:"endpoint_url"`
	WalletAddress  string             `yaml:"wallet_address"`
	ListenAddress  string             `yaml:"listen"`
	RegistryURL    string             `yaml:"registry_url"`
	RPCURL         string             `yaml:"rpc_url"`
	FacilitatorURL string             `yaml:"facilitator_url"`
	TokenMint      string             `yaml:"token_mint"`
	Network        string             `yaml:"network"`
	TaskTypes      []string           `yaml:"task_types"`
	Pricing        map[string]float64 `yaml:"pricing"`
	PollInterval   Duration           `yaml:"poll_interval"`
	PollTimeout    Duration           `yaml:"poll_timeout"`
	ReplayTTL      Duration           `yaml:"replay_ttl"`
	LogRequests    bool               `yaml:"log_requests"`
}

// LoadConfig reads the YAML config at path, layering environment overrides
// and defaults on top. An empty path yields environment plus defaults only.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PROVIDER_AGENT_ID")); v != "" {
		cfg.AgentID = v
	}
	if v := strings.TrimSpace(os.Getenv("PROVIDER_LISTEN")); v != "" {
		cfg.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("PROVIDER_WALLET_ADDRESS")); v != "" {
		cfg.WalletAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("REGISTRY_URL")); v != "" {
		cfg.RegistryURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SOLANA_RPC_URL")); v != "" {
		cfg.RPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv("USDC_MINT_ADDRESS")); v != "" {
		cfg.TokenMint = v
	}
	if v := strings.TrimSpace(os.Getenv("FACILITATOR_URL")); v != "" {
		cfg.FacilitatorURL = v
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.AgentName) == "" {
		cfg.AgentName = cfg.AgentID
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8091"
	}
	if strings.TrimSpace(cfg.RegistryURL) == "" {
		cfg.RegistryURL = "http://localhost:8090"
	}
	if strings.TrimSpace(cfg.RPCURL) == "" {
		cfg.RPCURL = "https://api.devnet.solana.com"
	}
	if strings.TrimSpace(cfg.FacilitatorURL) == "" {
		cfg.FacilitatorURL = "http://localhost:3000"
	}
	if strings.TrimSpace(cfg.TokenMint) == "" {
		cfg.TokenMint = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	}
	if strings.TrimSpace(cfg.Network) == "" {
		cfg.Network = "solana-devnet"
	}
	if len(cfg.TaskTypes) == 0 {
		cfg.TaskTypes = []string{"price_feed"}
	}
	if cfg.PollInterval.Duration <= 0 {
		cfg.PollInterval.Duration = 3 * time.Second
	}
	if cfg.PollTimeout.Duration <= 0 {
		cfg.PollTimeout.Duration = 5 * time.Second
	}
	if cfg.ReplayTTL.Duration <= 0 {
		cfg.ReplayTTL.Duration = 10 * time.Minute
	}
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.AgentID) == "" {
		return fmt.Errorf("agent_id must be set")
	}
	if strings.TrimSpace(cfg.WalletAddress) == "" {
		return fmt.Errorf("wallet_address must be set")
	}
	if !strings.Contains(cfg.ListenAddress, ":") {
		return fmt.Errorf("listen address %q must include a port", cfg.ListenAddress)
	}
	if strings.TrimSpace(cfg.EndpointURL) == "" {
		return fmt.Errorf("endpoint_url must be set so consumers can reach /deliver")
	}
	if cfg.PollInterval.Duration < 500*time.Millisecond {
		return fmt.Errorf("poll_interval must be at least 500ms")
	}
	for task, price := range cfg.Pricing {
		if price < 0 {
			return fmt.Errorf("pricing for %q must not be negative", task)
		}
	}
	return nil
}

// BasePrice returns the advertised price for a task type, zero when the
// provider has no price configured for it.
func (c Config) BasePrice(taskType string) float64 {
	return c.Pricing[taskType]
}
