package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DB        DBConfig
	Redis     RedisConfig
	Rebalance RebalanceConfig
	Nonce     NonceConfig
	Bitcoin   BitcoinConfig
	EVM       EVMConfig
	Solana    SolanaConfig
	SwapVenue SwapVenueConfig
	Router    RouterConfig
	PriceFeed PriceFeedConfig
	Networks  NetworksConfig
	Alert     AlertConfig
	Server    ServerConfig
	Log       LogConfig
	Tracing   TracingConfig
	HTTP      HTTPConfig
}

type DBConfig struct {
	URL              string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	StatementTimeout time.Duration
	MigrationsDir    string
}

type RedisConfig struct {
	// URL selects the Redis Streams queue. Empty runs the in-memory queue.
	URL       string
	Namespace string
}

type RebalanceConfig struct {
	Enabled             bool
	MaxRetryDuration    time.Duration
	SkipConfirmation    bool
	SlippageThreshold   int64
	SlippageHighWarning int64
	PendingInterval     time.Duration
	MonitorInterval     time.Duration
	RetryInterval       time.Duration
	SwapStatusInterval  time.Duration
	RecordTimeout       time.Duration
	JobRetention        time.Duration
	StallTimeout        time.Duration
}

type NonceConfig struct {
	RefreshInterval time.Duration
}

type BitcoinConfig struct {
	EsploraURL    string
	EsploraRPS    float64
	Network       string
	PrivateKeyWIF string
}

type EVMConfig struct {
	PrivateKey string
}

type SolanaConfig struct {
	RPCURL     string
	RPS        float64
	PrivateKey string
}

type SwapVenueConfig struct {
	URL              string
	APIKey           string
	RefundAddress    string
	Recipient        string
	OriginAsset      string
	DestinationAsset string
	SlippageBps      int
}

type RouterConfig struct {
	URL    string
	APIKey string
}

type PriceFeedConfig struct {
	URL    string
	Symbol string
}

type NetworksConfig struct {
	File string
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration
}

type ServerConfig struct {
	HealthPort int
}

type LogConfig struct {
	Level string
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type HTTPConfig struct {
	Timeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		DB: DBConfig{
			URL:              getEnv("DB_URL", ""),
			MaxOpenConns:     getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:     getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
			StatementTimeout: getEnvDuration("DB_STATEMENT_TIMEOUT", 30*time.Second),
			MigrationsDir:    getEnv("DB_MIGRATIONS_DIR", ""),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			Namespace: getEnv("QUEUE_NAMESPACE", "pmm"),
		},
		Rebalance: RebalanceConfig{
			Enabled:             getEnvBool("REBALANCE_ENABLED", true),
			MaxRetryDuration:    time.Duration(getEnvInt("REBALANCE_MAX_RETRY_DURATION_HOURS", 24)) * time.Hour,
			SkipConfirmation:    getEnvBool("REBALANCE_SKIP_CONFIRMATION", false),
			SlippageThreshold:   int64(getEnvInt("REBALANCE_SLIPPAGE_THRESHOLD_BPS", 300)),
			SlippageHighWarning: int64(getEnvInt("REBALANCE_SLIPPAGE_HIGH_WARNING_BPS", 150)),
			PendingInterval:     getEnvDuration("REBALANCE_PENDING_INTERVAL", 5*time.Minute),
			MonitorInterval:     getEnvDuration("REBALANCE_MONITOR_INTERVAL", 10*time.Minute),
			RetryInterval:       getEnvDuration("REBALANCE_RETRY_INTERVAL", 15*time.Minute),
			SwapStatusInterval:  getEnvDuration("REBALANCE_SWAP_STATUS_INTERVAL", 2*time.Minute),
			RecordTimeout:       getEnvDuration("REBALANCE_RECORD_TIMEOUT", 60*time.Second),
			JobRetention:        getEnvDuration("REBALANCE_JOB_RETENTION", 24*time.Hour),
			StallTimeout:        getEnvDuration("REBALANCE_STALL_TIMEOUT", 30*time.Minute),
		},
		Nonce: NonceConfig{
			RefreshInterval: getEnvDuration("NONCE_REFRESH_INTERVAL", time.Minute),
		},
		Bitcoin: BitcoinConfig{
			EsploraURL:    getEnv("ESPLORA_URL", "https://mempool.space/api"),
			EsploraRPS:    getEnvFloat("ESPLORA_RPS", 5),
			Network:       getEnv("BTC_NETWORK", "mainnet"),
			PrivateKeyWIF: getEnv("BTC_PRIVATE_KEY_WIF", ""),
		},
		EVM: EVMConfig{
			PrivateKey: getEnv("EVM_PRIVATE_KEY", ""),
		},
		Solana: SolanaConfig{
			RPCURL:     getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
			RPS:        getEnvFloat("SOLANA_RPS", 10),
			PrivateKey: getEnv("SOLANA_PRIVATE_KEY", ""),
		},
		SwapVenue: SwapVenueConfig{
			URL:              getEnv("SWAP_VENUE_URL", "https://1click.chaindefuser.com"),
			APIKey:           getEnv("SWAP_VENUE_API_KEY", ""),
			RefundAddress:    getEnv("SWAP_REFUND_ADDRESS", ""),
			Recipient:        getEnv("SWAP_RECIPIENT", ""),
			OriginAsset:      getEnv("SWAP_ORIGIN_ASSET", "nep141:btc.omft.near"),
			DestinationAsset: getEnv("SWAP_DESTINATION_ASSET", "nep141:eth-0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48.omft.near"),
			SlippageBps:      getEnvInt("SWAP_SLIPPAGE_BPS", 100),
		},
		Router: RouterConfig{
			URL:    getEnv("ROUTER_URL", ""),
			APIKey: getEnv("ROUTER_API_KEY", ""),
		},
		PriceFeed: PriceFeedConfig{
			URL:    getEnv("PRICE_FEED_URL", "https://api.binance.com"),
			Symbol: getEnv("PRICE_FEED_SYMBOL", "BTCUSDT"),
		},
		Networks: NetworksConfig{
			File: getEnv("NETWORKS_FILE", "configs/networks.yaml"),
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        time.Duration(getEnvInt("ALERT_COOLDOWN_SEC", 300)) * time.Second,
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_ENDPOINT", "localhost:4317"),
			Insecure:    getEnvBool("OTEL_INSECURE", true),
			SampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 0.1),
		},
		HTTP: HTTPConfig{
			Timeout: time.Duration(getEnvInt("HTTP_TIMEOUT_SEC", 15)) * time.Second,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DB.URL == "" {
		return fmt.Errorf("DB_URL is required")
	}
	if c.Rebalance.SlippageThreshold < 0 || c.Rebalance.SlippageHighWarning < 0 {
		return fmt.Errorf("slippage thresholds must not be negative")
	}
	if c.Rebalance.SlippageHighWarning > c.Rebalance.SlippageThreshold {
		return fmt.Errorf("REBALANCE_SLIPPAGE_HIGH_WARNING_BPS (%d) must not exceed REBALANCE_SLIPPAGE_THRESHOLD_BPS (%d)",
			c.Rebalance.SlippageHighWarning, c.Rebalance.SlippageThreshold)
	}
	if c.Rebalance.MaxRetryDuration <= 0 {
		return fmt.Errorf("REBALANCE_MAX_RETRY_DURATION_HOURS must be positive")
	}
	intervals := map[string]time.Duration{
		"REBALANCE_PENDING_INTERVAL":     c.Rebalance.PendingInterval,
		"REBALANCE_MONITOR_INTERVAL":     c.Rebalance.MonitorInterval,
		"REBALANCE_RETRY_INTERVAL":       c.Rebalance.RetryInterval,
		"REBALANCE_SWAP_STATUS_INTERVAL": c.Rebalance.SwapStatusInterval,
		"REBALANCE_RECORD_TIMEOUT":       c.Rebalance.RecordTimeout,
		"NONCE_REFRESH_INTERVAL":         c.Nonce.RefreshInterval,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	switch c.Bitcoin.Network {
	case "mainnet", "testnet", "signet", "regtest":
	default:
		return fmt.Errorf("BTC_NETWORK must be one of mainnet|testnet|signet|regtest, got %q", c.Bitcoin.Network)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug|info|warn|error, got %q", c.Log.Level)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "5m").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
