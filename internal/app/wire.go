package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/cyclearb/internal/blob/s3"
	"github.com/alanyoungcy/cyclearb/internal/bus/membus"
	"github.com/alanyoungcy/cyclearb/internal/bus/natsbus"
	"github.com/alanyoungcy/cyclearb/internal/cache/redis"
	"github.com/alanyoungcy/cyclearb/internal/config"
	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/journal"
	"github.com/alanyoungcy/cyclearb/internal/notify"
	"github.com/alanyoungcy/cyclearb/internal/server/handler"
	"github.com/alanyoungcy/cyclearb/internal/store/postgres"
)

// Dependencies bundles the optional infrastructure. Every field except
// SignalBus may be nil when its section is disabled.
type Dependencies struct {
	// Redis
	BookMirror *redis.BookMirror
	Claimer    domain.PlanClaimer

	// SignalBus is Redis pub/sub when Redis is enabled, in-process otherwise.
	SignalBus domain.SignalBus

	// Postgres
	DecisionStore domain.DecisionStore
	AuditStore    domain.AuditStore

	// S3
	Archiver *s3blob.DecisionArchiver

	// NATS
	NATS *natsbus.Publisher

	// Notifier is nil without chat channels.
	Notifier *notify.Notifier

	// Checks feed the health endpoint.
	Checks map[string]handler.Pinger
}

// DecisionSinks lists the configured decision sinks in delivery order.
func (d *Dependencies) DecisionSinks() []journal.DecisionSink {
	var sinks []journal.DecisionSink
	if d.DecisionStore != nil {
		sinks = append(sinks, journal.StoreSink{Store: d.DecisionStore})
	}
	if d.Archiver != nil {
		sinks = append(sinks, d.Archiver)
	}
	if d.NATS != nil {
		sinks = append(sinks, d.NATS)
	}
	if d.Notifier != nil {
		sinks = append(sinks, d.Notifier)
	}
	return append(sinks, journal.BusSink{Bus: d.SignalBus})
}

// PlanSinks lists the configured plan sinks.
func (d *Dependencies) PlanSinks() []journal.PlanSink {
	var sinks []journal.PlanSink
	if d.NATS != nil {
		sinks = append(sinks, d.NATS)
	}
	return append(sinks, journal.BusSink{Bus: d.SignalBus})
}

// Wire connects the enabled infrastructure and returns it with a cleanup
// function that releases it in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Pinger)}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.Migrate(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.Info("postgres migrations applied", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		deps.DecisionStore = postgres.NewDecisionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		if cfg.Ingest.MirrorToRedis {
			deps.BookMirror = redis.NewBookMirror(redisClient, cfg.Redis.BookTTL.Duration, 0, logger)
		}
		if cfg.Arbiter.DistributedClaims {
			deps.Claimer = redis.NewPlanClaimer(redisClient)
		}
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.SignalBus = membus.New()
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			MaxAttempts:    cfg.S3.MaxAttempts,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewDecisionArchiver(s3Client.Writer(), cfg.S3.Prefix)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- NATS ---
	if cfg.NATS.Enabled {
		pub, err := natsbus.Connect(natsbus.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			MaxReconnects: cfg.NATS.MaxReconnects,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: nats: %w", err)
		}
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("nats close", slog.String("error", err.Error()))
			}
		})
		deps.NATS = pub
		deps.Checks["nats"] = pub.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}
