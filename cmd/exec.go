package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"event-ticket/config"
	"event-ticket/internal/cache"
	"event-ticket/internal/codec"
	"event-ticket/internal/handlers"
	"event-ticket/internal/identity"
	"event-ticket/internal/notify"
	"event-ticket/internal/realtime"
	"event-ticket/internal/services"
	"event-ticket/internal/store"
	"event-ticket/monitoring"
	"event-ticket/security"
	"event-ticket/utils"

	_ "event-ticket/migrations"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/redis/go-redis/v9"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	utils.SetupLogger(cfg.Environment, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})
	app.RootCmd.AddCommand(newScanCommand(c), newCacheCommand(c))

	if len(os.Args) < 2 {
		app.RootCmd.SetArgs([]string{"serve", "--http", "0.0.0.0:" + cfg.Port})
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		go warmCache(ctx, c)

		c.routes().Register(e.Router)
		slog.Info("Server routes registered",
			"backend", cfg.StoreBackend,
			"signed_codes", c.codec.Signed(),
			"notifications", cfg.PubNubEnabled(),
		)

		return e.Next()
	})

	return app.Start()
}

// components holds everything the server and the CLI commands share.
type components struct {
	cfg     *config.Config
	redis   *redis.Client
	cache   *cache.Cache
	codec   *codec.Codec
	monitor *monitoring.Monitor
	limiter *security.RateLimiter

	store      store.Store
	sync       *services.Sync
	events     *services.EventService
	tickets    *services.TicketService
	issuance   *services.IssuanceService
	redemption *services.RedemptionService
	stats      *services.StatsService
}

func build(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{cfg: cfg, monitor: monitoring.NewMonitor()}

	var err error
	c.codec, err = codec.New([]byte(cfg.CodeSigningKey))
	if err != nil {
		return nil, err
	}

	var (
		backend store.Store
		broker  realtime.Broker
	)
	switch cfg.StoreBackend {
	case "redis":
		c.redis, err = utils.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		backend = store.NewRedisStore(c.redis, cfg.StoreMaxTxRetries)
		broker = realtime.NewRedisBroker(c.redis)
		if cfg.ScanRateLimit > 0 {
			c.limiter = security.NewRateLimiter(c.redis, cfg.ScanRateLimit, cfg.ScanRateWindow)
		}
	default:
		slog.Warn("Using the in-memory store, data is lost on restart")
		backend = store.NewMemoryStore()
		broker = realtime.NewMemoryBroker()
	}

	breaker := store.NewBreaker(utils.Settings{
		Name:          "store",
		MinRequests:   cfg.BreakerMinRequests,
		FailureRatio:  cfg.BreakerFailureRatio,
		Interval:      cfg.BreakerInterval,
		Timeout:       cfg.BreakerTimeout,
		OnStateChange: c.monitor.TrackBreakerState,
	})
	c.store = store.WithBreaker(backend, breaker)

	var local services.LocalCache
	if cfg.CachePath != "" {
		c.cache, err = cache.Open(ctx, cfg.CachePath, cache.WithMaxAge(cfg.CacheMaxAge))
		if err != nil {
			slog.Warn("Local cache disabled", "error", err, "path", cfg.CachePath)
		} else {
			local = c.cache
		}
	}

	var notifier notify.Publisher = notify.Nop{}
	if cfg.PubNubEnabled() {
		notifier = notify.NewPubNubPublisher(notify.PubNubConfig{
			PublishKey:   cfg.PubNubPublishKey,
			SubscribeKey: cfg.PubNubSubscribeKey,
			SecretKey:    cfg.PubNubSecretKey,
			UserID:       cfg.PubNubUserID,
		})
	}

	c.sync = services.NewSync(c.store, local)
	c.stats = services.NewStatsService(c.store, broker, c.monitor)
	c.events = services.NewEventService(c.store, c.sync)
	c.tickets = services.NewTicketService(c.store, c.sync)
	c.issuance = services.NewIssuanceService(c.store, c.codec, identity.ContextProvider{}, c.sync, notifier, c.monitor)
	c.redemption = services.NewRedemptionService(c.store, c.codec, c.sync, c.stats, notifier, c.monitor)
	return c, nil
}

func (c *components) routes() handlers.Routes {
	var client redis.Cmdable
	if c.redis != nil {
		client = c.redis
	}
	return handlers.Routes{
		System:        handlers.NewSystemHandler(client, c.cfg.StoreBackend),
		Events:        handlers.NewEventHandler(c.events),
		Tickets:       handlers.NewTicketHandler(c.issuance, c.tickets),
		Scans:         handlers.NewScanHandler(c.events, c.redemption, c.stats),
		Limiter:       c.limiter,
		EnableMetrics: c.cfg.EnableMetrics,
	}
}

func (c *components) Close() {
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			slog.Warn("Failed to close local cache", "error", err)
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			slog.Warn("Failed to close redis client", "error", err)
		}
	}
}

// warmCache mirrors the public events into the local cache so the listing
// pages work offline right after startup.
func warmCache(ctx context.Context, c *components) {
	if c.cache == nil {
		return
	}

	events, err := c.events.ListPublic(ctx, store.EventFilter{})
	if err != nil {
		slog.Warn("Skipping cache warm up", "error", err)
		return
	}
	for _, event := range events {
		c.sync.MirrorEvent(ctx, event)
	}
	slog.Info("Synced public events to local cache", "count", len(events))
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("Shutdown signal received, cleaning up...")
	cancel()
}
