package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CYCLEARB_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known environment variables and overwrites the
// corresponding Config fields when the variable is set and non-empty.
func applyEnvOverrides(cfg *Config) {
	// Mode first: EXECUTOR_ADDR below depends on it.
	setStr(&cfg.Mode, "CYCLEARB_MODE")

	// ── Ingress ──
	setStr(&cfg.Ingress.Addr, "INGRESS_ADDR")
	setStr(&cfg.Ingress.Addr, "CYCLEARB_INGRESS_ADDR")
	setInt(&cfg.Ingress.MaxRecvMsgBytes, "CYCLEARB_INGRESS_MAX_RECV_MSG_BYTES")
	setDuration(&cfg.Ingress.ShutdownTimeout, "CYCLEARB_INGRESS_SHUTDOWN_TIMEOUT")

	// ── Executor ──
	// EXECUTOR_ADDR names the executor endpoint: the listener in executor
	// mode, the remote target otherwise.
	if strings.EqualFold(cfg.Mode, "executor") {
		setStr(&cfg.Executor.ListenAddr, "EXECUTOR_ADDR")
	} else {
		setStr(&cfg.Executor.RemoteAddr, "EXECUTOR_ADDR")
	}
	setStr(&cfg.Executor.ListenAddr, "CYCLEARB_EXECUTOR_LISTEN_ADDR")
	setStr(&cfg.Executor.RemoteAddr, "CYCLEARB_EXECUTOR_REMOTE_ADDR")
	setDuration(&cfg.Executor.CallTimeout, "CYCLEARB_EXECUTOR_CALL_TIMEOUT")

	// ── Fees ──
	setFloat64(&cfg.Fees.DefaultTakerBps, "CYCLEARB_FEES_DEFAULT_TAKER_BPS")

	// ── Ingest ──
	setInt(&cfg.Ingest.MaxDepth, "CYCLEARB_INGEST_MAX_DEPTH")
	setBool(&cfg.Ingest.MirrorToRedis, "CYCLEARB_INGEST_MIRROR_TO_REDIS")

	// ── Scanner ──
	setBool(&cfg.Scanner.Enabled, "CYCLEARB_SCANNER_ENABLED")
	setFloat64(&cfg.Scanner.MinProfitQuote, "CYCLEARB_SCANNER_MIN_PROFIT_QUOTE")
	setFloat64(&cfg.Scanner.MinProfitBps, "CYCLEARB_SCANNER_MIN_PROFIT_BPS")
	setFloat64(&cfg.Scanner.MaxNotionalQuote, "CYCLEARB_SCANNER_MAX_NOTIONAL_QUOTE")
	setFloat64(&cfg.Scanner.LimitMarginBps, "CYCLEARB_SCANNER_LIMIT_MARGIN_BPS")
	setFloat64(&cfg.Scanner.MaxSlippageBp, "CYCLEARB_SCANNER_MAX_SLIPPAGE_BP")
	setInt(&cfg.Scanner.ValidMs, "CYCLEARB_SCANNER_VALID_MS")
	setDuration(&cfg.Scanner.Interval, "CYCLEARB_SCANNER_INTERVAL")
	setDuration(&cfg.Scanner.Cooldown, "CYCLEARB_SCANNER_COOLDOWN")
	setBool(&cfg.Scanner.AutoDiscover, "CYCLEARB_SCANNER_AUTO_DISCOVER")
	setStringSlice(&cfg.Scanner.QuoteAssets, "CYCLEARB_SCANNER_QUOTE_ASSETS")
	setStringSlice(&cfg.Scanner.StartCurrencies, "CYCLEARB_SCANNER_START_CURRENCIES")

	// ── Arbiter ──
	setFloat64(&cfg.Arbiter.MinProfitQuote, "CYCLEARB_ARBITER_MIN_PROFIT_QUOTE")
	setDuration(&cfg.Arbiter.Retention, "CYCLEARB_ARBITER_RETENTION")
	setDuration(&cfg.Arbiter.CleanupInterval, "CYCLEARB_ARBITER_CLEANUP_INTERVAL")
	setBool(&cfg.Arbiter.DistributedClaims, "CYCLEARB_ARBITER_DISTRIBUTED_CLAIMS")
	setDuration(&cfg.Arbiter.ClaimTimeout, "CYCLEARB_ARBITER_CLAIM_TIMEOUT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CYCLEARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CYCLEARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CYCLEARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CYCLEARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CYCLEARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CYCLEARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CYCLEARB_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.BookTTL, "CYCLEARB_REDIS_BOOK_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "CYCLEARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CYCLEARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CYCLEARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CYCLEARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CYCLEARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CYCLEARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CYCLEARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CYCLEARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CYCLEARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CYCLEARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CYCLEARB_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CYCLEARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CYCLEARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CYCLEARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "CYCLEARB_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "CYCLEARB_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "CYCLEARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CYCLEARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CYCLEARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CYCLEARB_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.MaxAttempts, "CYCLEARB_S3_MAX_ATTEMPTS")

	// ── NATS ──
	setBool(&cfg.NATS.Enabled, "CYCLEARB_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "CYCLEARB_NATS_URL")
	setStr(&cfg.NATS.SubjectPrefix, "CYCLEARB_NATS_SUBJECT_PREFIX")
	setInt(&cfg.NATS.MaxReconnects, "CYCLEARB_NATS_MAX_RECONNECTS")

	// ── Journal ──
	setInt(&cfg.Journal.BufferSize, "CYCLEARB_JOURNAL_BUFFER_SIZE")
	setInt(&cfg.Journal.BatchSize, "CYCLEARB_JOURNAL_BATCH_SIZE")
	setDuration(&cfg.Journal.FlushInterval, "CYCLEARB_JOURNAL_FLUSH_INTERVAL")
	setInt(&cfg.Journal.RecentCapacity, "CYCLEARB_JOURNAL_RECENT_CAPACITY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CYCLEARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CYCLEARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CYCLEARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CYCLEARB_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CYCLEARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CYCLEARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CYCLEARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CYCLEARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "CYCLEARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
