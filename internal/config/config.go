// Package config defines the top-level configuration for cyclearb and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CYCLEARB_* environment variables.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	Ingress  IngressConfig  `toml:"ingress"`
	Executor ExecutorConfig `toml:"executor"`
	Fees     FeesConfig     `toml:"fees"`
	Ingest   IngestConfig   `toml:"ingest"`
	Scanner  ScannerConfig  `toml:"scanner"`
	Arbiter  ArbiterConfig  `toml:"arbiter"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	NATS     NATSConfig     `toml:"nats"`
	Journal  JournalConfig  `toml:"journal"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
}

// IngressConfig holds the order-book ingress gRPC listener.
type IngressConfig struct {
	Addr            string   `toml:"addr"`
	MaxRecvMsgBytes int      `toml:"max_recv_msg_bytes"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// ExecutorConfig holds both sides of the executor service: the listener used
// when this process arbitrates, and the remote address a finder proposes to.
type ExecutorConfig struct {
	ListenAddr  string   `toml:"listen_addr"`
	RemoteAddr  string   `toml:"remote_addr"`
	CallTimeout duration `toml:"call_timeout"`
}

// FeesConfig holds taker fees in basis points. Quote overrides win over
// exchange overrides, which win over the default.
type FeesConfig struct {
	DefaultTakerBps float64                       `toml:"default_taker_bps"`
	Exchanges       map[string]float64            `toml:"exchanges"`
	Quotes          map[string]map[string]float64 `toml:"quotes"`
}

// IngestConfig controls the book registry.
type IngestConfig struct {
	// MaxDepth trims each side to this many levels; 0 keeps everything.
	MaxDepth      int  `toml:"max_depth"`
	MirrorToRedis bool `toml:"mirror_to_redis"`
}

// CycleConfig pins one cycle by its three market symbols in trade order.
type CycleConfig struct {
	Exchange string   `toml:"exchange"`
	Quote    string   `toml:"quote"`
	Markets  []string `toml:"markets"`
}

// ScannerConfig holds opportunity-scanner parameters.
type ScannerConfig struct {
	Enabled            bool               `toml:"enabled"`
	MinProfitQuote     float64            `toml:"min_profit_quote"`
	MinProfitBps       float64            `toml:"min_profit_bps"`
	MaxNotionalQuote   float64            `toml:"max_notional_quote"`
	MaxNotionalByQuote map[string]float64 `toml:"max_notional_by_quote"`
	LimitMarginBps     float64            `toml:"limit_margin_bps"`
	MaxSlippageBp      float64            `toml:"max_slippage_bp"`
	ValidMs            int                `toml:"valid_ms"`
	Interval           duration           `toml:"interval"`
	Cooldown           duration           `toml:"cooldown"`
	// AutoDiscover builds triangles from every market the ingress sees.
	AutoDiscover    bool          `toml:"auto_discover"`
	QuoteAssets     []string      `toml:"quote_assets"`
	StartCurrencies []string      `toml:"start_currencies"`
	Cycles          []CycleConfig `toml:"cycles"`
}

// ArbiterConfig holds proposal-arbiter parameters.
type ArbiterConfig struct {
	MinProfitQuote float64 `toml:"min_profit_quote"`
	// Retention keeps a plan id past its validity deadline.
	Retention       duration `toml:"retention"`
	CleanupInterval duration `toml:"cleanup_interval"`
	// DistributedClaims also claims plan ids in Redis so several executor
	// replicas agree on first submission.
	DistributedClaims bool     `toml:"distributed_claims"`
	ClaimTimeout      duration `toml:"claim_timeout"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	BookTTL    duration `toml:"book_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	MaxAttempts    int    `toml:"max_attempts"`
}

// NATSConfig holds the NATS connection used to broadcast plans and decisions.
type NATSConfig struct {
	Enabled       bool   `toml:"enabled"`
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
	MaxReconnects int    `toml:"max_reconnects"`
}

// JournalConfig controls batching of decision records to the sinks.
type JournalConfig struct {
	BufferSize     int      `toml:"buffer_size"`
	BatchSize      int      `toml:"batch_size"`
	FlushInterval  duration `toml:"flush_interval"`
	RecentCapacity int      `toml:"recent_capacity"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NotifyConfig holds chat alert channels. A channel is active when its
// credentials are set.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"` // "accepted", "rejected"
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Ingress: IngressConfig{
			Addr:            ":50051",
			MaxRecvMsgBytes: 10 * 1024 * 1024,
			ShutdownTimeout: duration{10 * time.Second},
		},
		Executor: ExecutorConfig{
			ListenAddr:  ":50052",
			RemoteAddr:  "127.0.0.1:50052",
			CallTimeout: duration{500 * time.Millisecond},
		},
		Fees: FeesConfig{
			DefaultTakerBps: 10,
		},
		Ingest: IngestConfig{
			MaxDepth: 50,
		},
		Scanner: ScannerConfig{
			Enabled:          true,
			MinProfitQuote:   1,
			MinProfitBps:     0,
			MaxNotionalQuote: 1000,
			LimitMarginBps:   0,
			MaxSlippageBp:    5,
			ValidMs:          250,
			Interval:         duration{250 * time.Millisecond},
			Cooldown:         duration{time.Second},
			AutoDiscover:     true,
			QuoteAssets:      []string{"USDT", "USDC", "BTC", "ETH", "BNB"},
			StartCurrencies:  []string{"USDT"},
		},
		Arbiter: ArbiterConfig{
			MinProfitQuote:  1,
			Retention:       duration{2 * time.Minute},
			CleanupInterval: duration{30 * time.Second},
			ClaimTimeout:    duration{50 * time.Millisecond},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			BookTTL:    duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "cyclearb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cyclearb",
			Prefix:         "decisions",
			ForcePathStyle: true,
			MaxAttempts:    3,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "cyclearb",
			MaxReconnects: -1,
		},
		Journal: JournalConfig{
			BufferSize:     4096,
			BatchSize:      256,
			FlushInterval:  duration{time.Second},
			RecentCapacity: 512,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Notify: NotifyConfig{
			Events: []string{"accepted"},
		},
	}
}

var validModes = map[string]bool{
	"full":     true,
	"finder":   true,
	"executor": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsScanner reports whether the mode runs the opportunity scanner.
func (c *Config) RunsScanner() bool {
	m := strings.ToLower(c.Mode)
	return (m == "full" || m == "finder") && c.Scanner.Enabled
}

// RunsArbiter reports whether the mode serves the executor.
func (c *Config) RunsArbiter() bool {
	m := strings.ToLower(c.Mode)
	return m == "full" || m == "executor"
}

// Validate checks the configuration for logical errors and returns a combined
// error describing all problems found. It returns nil when the config is valid.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, finder, executor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ingress
	if strings.TrimSpace(c.Ingress.Addr) == "" {
		errs = append(errs, "ingress: addr must not be empty")
	}
	if c.Ingress.MaxRecvMsgBytes < 0 {
		errs = append(errs, "ingress: max_recv_msg_bytes must be >= 0")
	}

	// Executor
	if c.RunsArbiter() && strings.TrimSpace(c.Executor.ListenAddr) == "" {
		errs = append(errs, "executor: listen_addr must not be empty for mode "+c.Mode)
	}
	if strings.EqualFold(c.Mode, "finder") && strings.TrimSpace(c.Executor.RemoteAddr) == "" {
		errs = append(errs, "executor: remote_addr is required for mode finder")
	}
	if c.Executor.CallTimeout.Duration <= 0 {
		errs = append(errs, "executor: call_timeout must be > 0")
	}

	// Fees
	if c.Fees.DefaultTakerBps < 0 {
		errs = append(errs, "fees: default_taker_bps must be >= 0")
	}
	for ex, bps := range c.Fees.Exchanges {
		if bps < 0 {
			errs = append(errs, fmt.Sprintf("fees: exchanges.%s must be >= 0", ex))
		}
	}
	for ex, quotes := range c.Fees.Quotes {
		for q, bps := range quotes {
			if bps < 0 {
				errs = append(errs, fmt.Sprintf("fees: quotes.%s.%s must be >= 0", ex, q))
			}
		}
	}

	if c.Ingest.MaxDepth < 0 {
		errs = append(errs, "ingest: max_depth must be >= 0")
	}
	if c.Ingest.MirrorToRedis && !c.Redis.Enabled {
		errs = append(errs, "ingest: mirror_to_redis requires redis.enabled")
	}

	// Scanner
	if c.RunsScanner() {
		s := c.Scanner
		if s.MaxNotionalQuote <= 0 {
			errs = append(errs, "scanner: max_notional_quote must be > 0")
		}
		if s.MinProfitQuote < 0 || s.MinProfitBps < 0 {
			errs = append(errs, "scanner: min_profit_quote and min_profit_bps must be >= 0")
		}
		if s.LimitMarginBps < 0 || s.MaxSlippageBp < 0 {
			errs = append(errs, "scanner: limit_margin_bps and max_slippage_bp must be >= 0")
		}
		if s.ValidMs <= 0 {
			errs = append(errs, "scanner: valid_ms must be > 0")
		}
		if s.Interval.Duration <= 0 {
			errs = append(errs, "scanner: interval must be > 0")
		}
		if s.Cooldown.Duration < 0 {
			errs = append(errs, "scanner: cooldown must be >= 0")
		}
		if len(s.QuoteAssets) == 0 {
			errs = append(errs, "scanner: quote_assets must not be empty")
		}
		if !s.AutoDiscover && len(s.Cycles) == 0 {
			errs = append(errs, "scanner: set auto_discover or list at least one [[scanner.cycles]]")
		}
		for i, cyc := range s.Cycles {
			if cyc.Exchange == "" || cyc.Quote == "" {
				errs = append(errs, fmt.Sprintf("scanner: cycles[%d] needs exchange and quote", i))
			}
			if len(cyc.Markets) != 3 {
				errs = append(errs, fmt.Sprintf("scanner: cycles[%d] needs exactly 3 markets, got %d", i, len(cyc.Markets)))
			}
		}
	}

	// Arbiter
	if c.RunsArbiter() {
		if c.Arbiter.MinProfitQuote < 0 {
			errs = append(errs, "arbiter: min_profit_quote must be >= 0")
		}
		if c.Arbiter.Retention.Duration <= 0 {
			errs = append(errs, "arbiter: retention must be > 0")
		}
		if c.Arbiter.CleanupInterval.Duration <= 0 {
			errs = append(errs, "arbiter: cleanup_interval must be > 0")
		}
		if c.Arbiter.DistributedClaims && !c.Redis.Enabled {
			errs = append(errs, "arbiter: distributed_claims requires redis.enabled")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats: url must not be empty")
	}

	// Journal
	if c.Journal.BufferSize < 1 || c.Journal.BatchSize < 1 {
		errs = append(errs, "journal: buffer_size and batch_size must be >= 1")
	}
	if c.Journal.FlushInterval.Duration <= 0 {
		errs = append(errs, "journal: flush_interval must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, e := range c.Notify.Events {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "accepted" && e != "rejected" {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q (valid: accepted, rejected)", e))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
