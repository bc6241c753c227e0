// Package config defines the weathercover configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

// Config is the root configuration. Fields are decoded from a TOML file over
// Defaults and then overridden by WEATHERCOVER_* environment variables.
type Config struct {
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
	Wallet      WalletConfig      `toml:"wallet"`
	Chain       ChainConfig       `toml:"chain"`
	Ledger      LedgerConfig      `toml:"ledger"`
	Oracle      OracleConfig      `toml:"oracle"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Store       StoreConfig       `toml:"store"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Marketplace MarketplaceConfig `toml:"marketplace"`
	Keeper      KeeperConfig      `toml:"keeper"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
}

// WalletConfig locates the escrow private key used by the erc20 ledger.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the RPC endpoint and stablecoin contract.
type ChainConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	ChainID        int64    `toml:"chain_id"`
	TokenAddress   string   `toml:"token_address"`
	ReceiptTimeout Duration `toml:"receipt_timeout"`
	PollInterval   Duration `toml:"poll_interval"`
}

// LedgerConfig selects the ledger backend. The memory backend credits each
// seed account with SeedBalance and approves the escrow for all of it.
type LedgerConfig struct {
	Backend      string   `toml:"backend"`
	Escrow       string   `toml:"escrow"`
	SeedAccounts []string `toml:"seed_accounts"`
	SeedBalance  string   `toml:"seed_balance"`
}

// OracleConfig configures the weather data service client.
type OracleConfig struct {
	BaseURL         string   `toml:"base_url"`
	APIKey          string   `toml:"api_key"`
	Secret          string   `toml:"secret"`
	Timeout         Duration `toml:"timeout"`
	MaxClockSkew    Duration `toml:"max_clock_skew"`
	BreakerFailures uint32   `toml:"breaker_failures"`
	BreakerCooldown Duration `toml:"breaker_cooldown"`
}

// PostgresConfig holds connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// StoreConfig selects the request store backend.
type StoreConfig struct {
	Backend string `toml:"backend"`
}

// RedisConfig holds Redis parameters. An empty Addr runs the lock, bus,
// cache and rate limiter in process.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	RequestTTL   Duration `toml:"request_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds object storage parameters for settlement receipts.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ReceiptPrefix  string `toml:"receipt_prefix"`
}

// MarketplaceConfig holds the premium split and locking parameters.
type MarketplaceConfig struct {
	ExpertFeeBps uint64   `toml:"expert_fee_bps"`
	LockTTL      Duration `toml:"lock_ttl"`
	LockWait     Duration `toml:"lock_wait"`
}

// KeeperConfig controls the settlement keeper loop.
type KeeperConfig struct {
	Interval  Duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
	Identity  string   `toml:"identity"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AuthMode is "signature" (personal_sign headers) or "header" (trust
	// X-Wallet-Address, local development only).
	AuthMode        string   `toml:"auth_mode"`
	SignatureMaxAge Duration `toml:"signature_max_age"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      Duration `toml:"rate_window"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Duration decodes TOML strings such as "30s" or "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config that runs fully in memory.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Chain: ChainConfig{
			ChainID:        80002,
			ReceiptTimeout: Duration{2 * time.Minute},
			PollInterval:   Duration{2 * time.Second},
		},
		Ledger: LedgerConfig{
			Backend:     "memory",
			Escrow:      "0x000000000000000000000000000000000000e5c0",
			SeedBalance: "10000",
		},
		Oracle: OracleConfig{
			BaseURL:         "http://localhost:8090",
			Timeout:         Duration{15 * time.Second},
			MaxClockSkew:    Duration{5 * time.Minute},
			BreakerFailures: 5,
			BreakerCooldown: Duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "weathercover",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Store: StoreConfig{Backend: "memory"},
		Redis: RedisConfig{
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "weathercover",
			RequestTTL:   Duration{10 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "weathercover-receipts",
			ForcePathStyle: true,
			ReceiptPrefix:  "receipts",
		},
		Marketplace: MarketplaceConfig{
			ExpertFeeBps: 500,
			LockTTL:      Duration{5 * time.Minute},
			LockWait:     Duration{5 * time.Second},
		},
		Keeper: KeeperConfig{
			Interval:  Duration{time.Minute},
			BatchSize: 50,
			Identity:  "keeper",
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			AuthMode:        "signature",
			SignatureMaxAge: Duration{5 * time.Minute},
			RateLimit:       60,
			RateWindow:      Duration{time.Minute},
			ReadTimeout:     Duration{15 * time.Second},
			WriteTimeout:    Duration{3 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"premium_paid", "policy_settled"},
		},
	}
}

var (
	validModes     = []string{"server", "keeper", "full"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validStores    = []string{"memory", "postgres"}
	validLedgers   = []string{"memory", "erc20"}
	validAuthModes = []string{"signature", "header"}
)

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Validate reports every problem found as one joined error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !oneOf(c.Mode, validModes) {
		add("unknown mode %q (valid: %s)", c.Mode, strings.Join(validModes, ", "))
	}
	if !oneOf(c.LogLevel, validLogLevels) {
		add("unknown log_level %q (valid: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch {
	case !oneOf(c.Ledger.Backend, validLedgers):
		add("ledger: unknown backend %q", c.Ledger.Backend)
	case strings.EqualFold(c.Ledger.Backend, "erc20"):
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: private_key or encrypted_key_path is required for the erc20 ledger")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			add("wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Chain.RPCURL == "" {
			add("chain: rpc_url must not be empty")
		}
		if c.Chain.ChainID <= 0 {
			add("chain: chain_id must be positive")
		}
		if c.Chain.TokenAddress == "" {
			add("chain: token_address must not be empty")
		}
	default:
		if c.Ledger.Escrow == "" {
			add("ledger: escrow must not be empty for the memory ledger")
		}
		if _, err := domain.ParseAmount(c.Ledger.SeedBalance); c.Ledger.SeedBalance != "" && err != nil {
			add("ledger: seed_balance: %v", err)
		}
	}

	if c.Oracle.BaseURL == "" {
		add("oracle: base_url must not be empty")
	}

	if !oneOf(c.Store.Backend, validStores) {
		add("store: unknown backend %q", c.Store.Backend)
	} else if strings.EqualFold(c.Store.Backend, "postgres") {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		add("redis: pool_size must be >= 1")
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty when enabled")
	}

	if c.Marketplace.ExpertFeeBps > 10_000 {
		add("marketplace: expert_fee_bps must be <= 10000, got %d", c.Marketplace.ExpertFeeBps)
	}
	if c.Marketplace.LockTTL.Duration <= 0 {
		add("marketplace: lock_ttl must be > 0")
	}

	if c.Mode != "server" {
		if c.Keeper.Interval.Duration < time.Second {
			add("keeper: interval must be >= 1s")
		}
		if c.Keeper.BatchSize < 1 {
			add("keeper: batch_size must be >= 1")
		}
	}

	if c.Mode != "keeper" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if !oneOf(c.Server.AuthMode, validAuthModes) {
			add("server: unknown auth_mode %q", c.Server.AuthMode)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}
