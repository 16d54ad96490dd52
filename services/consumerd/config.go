package consumerd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"agoranet/solana"
)

// Duration wraps time.Duration so TOML profiles accept values such as
// "10s" or "750ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
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

// TaskConfig describes the single procurement this run performs.
type TaskConfig struct {
	TaskType               string         `toml:"task_type"`
	Requirements           map[string]any `toml:"requirements"`
	Parameters             map[string]any `toml:"parameters"`
	MaxBudgetUSDC          float64        `toml:"max_budget_usdc"`
	RequiredDeliveryTimeMS int64          `toml:"required_delivery_time_ms"`
}

// ModelConfig enables the model-backed evaluator when a model is named;
// the API key comes from the environment only.
type ModelConfig struct {
	BaseURL string   `toml:"base_url"`
	Model   string   `toml:"model"`
	Timeout Duration `toml:"timeout"`
}

// Config is the consumer run profile. Wallet secrets are environment-only
// and never appear in the TOML file.
type Config struct {
	AgentID          string      `toml:"agent_id"`
	AgentName        string      `toml:"agent_name"`
	WalletAddress    string      `toml:"wallet_address"`
	RegistryURL      string      `toml:"registry_url"`
	RPCURL           string      `toml:"rpc_url"`
	Network          string      `toml:"network"`
	TokenMint        string      `toml:"token_mint"`
	JournalPath      string      `toml:"journal_path"`
	BiddingWindow    Duration    `toml:"bidding_window"`
	PollInterval     Duration    `toml:"poll_interval"`
	DeliveryAttempts int         `toml:"delivery_attempts"`
	Task             TaskConfig  `toml:"task"`
	Evaluator        ModelConfig `toml:"evaluator"`

	// WalletPrivateKey is sourced from CONSUMER_WALLET_PRIVATE_KEY.
	WalletPrivateKey string `toml:"-"`
	// ModelAPIKey is sourced from OPENAI_API_KEY.
	ModelAPIKey string `toml:"-"`
}

// LoadConfig reads the TOML profile at path, layering environment overrides
// and defaults on top.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode profile: %w", err)
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
	if v := strings.TrimSpace(os.Getenv("CONSUMER_AGENT_ID")); v != "" {
		cfg.AgentID = v
	}
	if v := strings.TrimSpace(os.Getenv("CONSUMER_WALLET_ADDRESS")); v != "" {
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
	if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" {
		cfg.Evaluator.BaseURL = v
	}
	cfg.WalletPrivateKey = strings.TrimSpace(os.Getenv("CONSUMER_WALLET_PRIVATE_KEY"))
	cfg.ModelAPIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.AgentName) == "" {
		cfg.AgentName = cfg.AgentID
	}
	if strings.TrimSpace(cfg.RegistryURL) == "" {
		cfg.RegistryURL = "http://localhost:8090"
	}
	if strings.TrimSpace(cfg.RPCURL) == "" {
		cfg.RPCURL = "https://api.devnet.solana.com"
	}
	if strings.TrimSpace(cfg.Network) == "" {
		cfg.Network = "solana-devnet"
	}
	if strings.TrimSpace(cfg.TokenMint) == "" {
		cfg.TokenMint = solana.DevnetUSDCMint.String()
	}
	if strings.TrimSpace(cfg.JournalPath) == "" {
		cfg.JournalPath = "consumer_receipts.db"
	}
	if cfg.BiddingWindow.Duration <= 0 {
		cfg.BiddingWindow.Duration = 10 * time.Second
	}
	if cfg.PollInterval.Duration <= 0 {
		cfg.PollInterval.Duration = time.Second
	}
	if cfg.DeliveryAttempts <= 0 {
		cfg.DeliveryAttempts = 2
	}
	if strings.TrimSpace(cfg.Evaluator.BaseURL) == "" {
		cfg.Evaluator.BaseURL = "https://api.openai.com/v1"
	}
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.AgentID) == "" {
		return fmt.Errorf("agent_id must be set")
	}
	if strings.TrimSpace(cfg.WalletAddress) == "" {
		return fmt.Errorf("wallet_address must be set")
	}
	if _, err := solana.ParsePublicKey(cfg.WalletAddress); err != nil {
		return fmt.Errorf("parse wallet address: %w", err)
	}
	if cfg.WalletPrivateKey != "" {
		key, err := solana.ParsePrivateKey(cfg.WalletPrivateKey)
		if err != nil {
			return fmt.Errorf("parse wallet private key: %w", err)
		}
		derived, err := solana.PublicKeyOf(key)
		if err != nil {
			return fmt.Errorf("derive wallet public key: %w", err)
		}
		if derived.String() != cfg.WalletAddress {
			return fmt.Errorf("wallet private key does not match wallet_address")
		}
	}
	if strings.TrimSpace(cfg.Task.TaskType) == "" {
		return fmt.Errorf("task.task_type must be set")
	}
	if cfg.Task.MaxBudgetUSDC <= 0 {
		return fmt.Errorf("task.max_budget_usdc must be positive")
	}
	if _, err := solana.ParsePublicKey(cfg.TokenMint); err != nil {
		return fmt.Errorf("parse token mint: %w", err)
	}
	return nil
}

// ModelEnabled reports whether a model-backed evaluator is configured.
func (c Config) ModelEnabled() bool {
	return strings.TrimSpace(c.Evaluator.Model) != "" && c.ModelAPIKey != ""
}
