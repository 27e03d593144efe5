package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/secretmarket/internal/blob/s3"
	"github.com/alanyoungcy/secretmarket/internal/cache/redis"
	"github.com/alanyoungcy/secretmarket/internal/config"
	"github.com/alanyoungcy/secretmarket/internal/domain"
	"github.com/alanyoungcy/secretmarket/internal/market"
	"github.com/alanyoungcy/secretmarket/internal/notify"
	"github.com/alanyoungcy/secretmarket/internal/oracle"
	"github.com/alanyoungcy/secretmarket/internal/server/handler"
	"github.com/alanyoungcy/secretmarket/internal/service"
	"github.com/alanyoungcy/secretmarket/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Market *market.Market

	// Persistence
	Store  domain.LedgerStore
	Events domain.EventStore

	// Caches; nil unless redis is enabled.
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Archiver is nil unless s3 is enabled.
	Archiver *s3blob.Archiver

	Feed domain.PriceFeed
	// Mirror copies the on-chain price into the redis cache. Nil unless the
	// oracle reads from redis and an rpc_url is configured.
	Mirror *service.PriceService

	Notifier *notify.Notifier
	Sinks    []domain.EventSink

	// HealthChecks probe each enabled backing service.
	HealthChecks map[string]handler.Check
}

// Wire constructs the concrete implementations selected by cfg and returns
// them together with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	params, err := cfg.MarketParams()
	if err != nil {
		return fail("market params", err)
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.Check)}

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
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		ledger := postgres.NewLedgerStore(pgClient.Pool(), params.ID)
		deps.Store, deps.Events = ledger, ledger
		deps.HealthChecks["postgres"] = pgClient.Ping
		logger.InfoContext(ctx, "wire: postgres ledger ready")
	} else {
		mem := market.NewMemoryStore()
		deps.Store, deps.Events = mem, mem
		logger.WarnContext(ctx, "wire: postgres disabled, ledger is in-memory only")
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
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		bus := redis.NewSignalBus(redisClient)
		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = bus
		deps.Sinks = append(deps.Sinks, redis.NewEventBus(bus))
		deps.HealthChecks["redis"] = redisClient.Ping
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
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client))
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- AMQP ---
	if cfg.AMQP.Enabled {
		pub, err := notify.DialAMQP(notify.AMQPConfig{
			URL:      cfg.AMQP.URL,
			Exchange: cfg.AMQP.Exchange,
		}, logger)
		if err != nil {
			return fail("amqp", err)
		}
		closers = append(closers, func() { _ = pub.Close() })
		deps.Sinks = append(deps.Sinks, pub)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
		deps.Sinks = append(deps.Sinks, deps.Notifier)
	}

	// --- Oracle ---
	feed, mirror, closeFeed, err := wireFeed(ctx, cfg, deps, logger)
	if err != nil {
		return fail("oracle", err)
	}
	if closeFeed != nil {
		closers = append(closers, closeFeed)
	}
	deps.Feed, deps.Mirror = feed, mirror

	// --- Market ---
	m, err := market.New(ctx, market.Config{
		Params: params,
		Feed:   deps.Feed,
		Store:  deps.Store,
		Sinks:  deps.Sinks,
		Logger: logger,
	})
	if err != nil {
		return fail("market", err)
	}
	deps.Market = m

	logger.InfoContext(ctx, "wire: dependencies ready",
		slog.String("market_id", params.ID),
		slog.String("oracle", params.Oracle),
		slog.Int("sinks", len(deps.Sinks)),
	)
	return deps, cleanup, nil
}

// wireFeed selects the price feed named by cfg.Oracle.Source. With source
// "redis" and an rpc_url it also returns a PriceService that mirrors the
// chain price into the cache.
func wireFeed(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (domain.PriceFeed, *service.PriceService, func(), error) {
	o := cfg.Oracle
	switch o.Source {
	case "static":
		return oracle.NewStatic(o.StaticPrice), nil, nil, nil

	case "chain":
		chain, err := oracle.DialChainFeed(ctx, o.RPCURL, common.HexToAddress(o.Contract))
		if err != nil {
			return nil, nil, nil, err
		}
		return chain, nil, chain.Close, nil

	case "redis":
		if deps.PriceCache == nil {
			return nil, nil, nil, fmt.Errorf("source redis needs redis.enabled")
		}
		feed := redis.NewPriceFeed(deps.PriceCache, o.AssetID, o.MaxAge.Duration)
		if o.RPCURL == "" {
			return feed, nil, nil, nil
		}
		chain, err := oracle.DialChainFeed(ctx, o.RPCURL, common.HexToAddress(o.Contract))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("mirror source: %w", err)
		}
		mirror := service.NewPriceService(chain, deps.PriceCache, deps.SignalBus,
			o.AssetID, o.MirrorInterval.Duration, logger)
		return feed, mirror, chain.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown source %q", o.Source)
	}
}
