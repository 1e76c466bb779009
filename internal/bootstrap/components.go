package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"risk_engine/internal/alert"
	"risk_engine/internal/api"
	"risk_engine/internal/cache"
	"risk_engine/internal/config"
	"risk_engine/internal/core"
	"risk_engine/internal/engine"
	"risk_engine/internal/feed"
	"risk_engine/internal/infrastructure/health"
	"risk_engine/internal/infrastructure/metrics"
	"risk_engine/internal/store"
	"risk_engine/pkg/concurrency"
)

// repository is a store usable for both limits and alerts
type repository interface {
	core.ILimitStore
	core.IAlertStore
	core.IHealthChecker
}

type healthCache interface {
	core.IAssessmentCache
	core.IHealthChecker
}

type healthProvider interface {
	core.IPositionProvider
	core.IHealthChecker
}

// Components is the wired object graph of the server
type Components struct {
	Service *engine.Service
	API     *api.Server
	Health  *health.HealthManager
	Alerts  *alert.AlertManager
	Hub     *alert.Hub
	Monitor *engine.Monitor
	Metrics *metrics.Server

	pool    *concurrency.WorkerPool
	closers []io.Closer
	logger  core.ILogger
}

// BuildComponents wires storage, cache, feed, alert delivery, the engine and its transports
func BuildComponents(cfg *config.Config, logger core.ILogger) (*Components, error) {
	c := &Components{logger: logger}

	repo, err := c.buildStore(cfg)
	if err != nil {
		return nil, c.fail(err)
	}
	assessmentCache := c.buildCache(cfg, logger)
	provider, ledger, err := c.buildFeed(cfg, logger)
	if err != nil {
		return nil, c.fail(err)
	}

	c.Alerts = alert.NewAlertManager(core.AlertSeverity(cfg.Alerts.MinSeverity), logger)
	var stream http.Handler
	if cfg.Alerts.Websocket {
		c.Hub = alert.NewHub(logger)
		c.Alerts.AddChannel(c.Hub)
		stream = alert.NewStreamHandler(c.Hub, cfg.Server.AllowedOrigins, cfg.Server.MaxWSConnections, logger)
	}
	if url := cfg.Alerts.Slack.WebhookURL.Reveal(); url != "" {
		c.Alerts.AddChannel(alert.NewSlackChannel(url))
	}
	if token := cfg.Alerts.Telegram.BotToken.Reveal(); token != "" {
		c.Alerts.AddChannel(alert.NewTelegramChannel(token, cfg.Alerts.Telegram.ChatID))
	}
	if len(cfg.Alerts.Kafka.Brokers) > 0 {
		k := alert.NewKafkaChannel(cfg.Alerts.Kafka.Brokers, cfg.Alerts.Kafka.Topic)
		c.closers = append(c.closers, k)
		c.Alerts.AddChannel(k)
	}

	c.pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "user_sweep",
		MaxWorkers:  cfg.Concurrency.SweepPoolSize,
		MaxCapacity: cfg.Concurrency.SweepPoolBuffer,
	}, logger)

	c.Service = engine.NewService(engine.Deps{
		Positions:             provider,
		LimitStore:            repo,
		AlertStore:            repo,
		Cache:                 assessmentCache,
		Ledger:                ledger,
		Notifier:              c.Alerts,
		Pool:                  c.pool,
		MaintenanceMarginRate: cfg.Risk.MaintenanceMarginRate,
	}, logger)

	c.Health = health.NewHealthManager(logger)
	c.Health.RegisterChecker("store", repo)
	c.Health.RegisterChecker("cache", assessmentCache)
	c.Health.RegisterChecker("position_feed", provider)

	c.API = api.NewServer(api.Options{
		Addr:               cfg.Server.Addr,
		ReadTimeout:        time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout:       time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		RateLimitPerSecond: cfg.Server.RateLimitPerSecond,
		RateLimitBurst:     cfg.Server.RateLimitBurst,
		AssessmentTimeout:  time.Duration(cfg.Risk.AssessmentTimeoutSec) * time.Second,
	}, c.Service, c.Health, stream, logger)

	if cfg.Limits.MonitorEnabled {
		c.Monitor = engine.NewMonitor(c.Service, repo, cfg.Limits.MonitorSchedule, logger)
	}
	if cfg.Telemetry.EnableMetrics {
		c.Metrics = metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
	}

	return c, nil
}

func (c *Components) buildStore(cfg *config.Config) (repository, error) {
	switch cfg.Store.Type {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		c.closers = append(c.closers, s)
		return s, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func (c *Components) buildCache(cfg *config.Config, logger core.ILogger) healthCache {
	switch cfg.Cache.Type {
	case "redis":
		rc := cache.NewRedisCache(cache.RedisOptions{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password.Reveal(),
			DB:       cfg.Cache.Redis.DB,
			TTL:      cfg.CacheTTL(),
		}, logger)
		c.closers = append(c.closers, rc)
		return rc
	default:
		return cache.NewMemoryCache(cfg.CacheTTL())
	}
}

func (c *Components) buildFeed(cfg *config.Config, logger core.ILogger) (healthProvider, core.ITradeLedger, error) {
	switch cfg.Feed.Type {
	case "http":
		p := feed.NewHTTPProvider(cfg.Feed.HTTP.BaseURL, time.Duration(cfg.Feed.HTTP.TimeoutSec)*time.Second,
			cfg.Feed.HTTP.Token.Reveal(), logger)
		if cfg.Feed.UseLedger {
			return p, p, nil
		}
		return p, nil, nil
	case "binance":
		accounts := make([]feed.BinanceAccount, len(cfg.Feed.Binance.Accounts))
		for i, a := range cfg.Feed.Binance.Accounts {
			accounts[i] = feed.BinanceAccount{UserID: a.UserID, APIKey: a.APIKey.Reveal(), SecretKey: a.SecretKey.Reveal()}
		}
		p, err := feed.NewBinanceProvider(accounts, cfg.Feed.Binance.UseTestnet, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("binance feed: %w", err)
		}
		return p, nil, nil
	default:
		p := feed.NewMemoryProvider()
		if cfg.Feed.UseLedger {
			return p, feed.NewMemoryLedger(), nil
		}
		return p, nil, nil
	}
}

// Runners lists the long-running parts in start order
func (c *Components) Runners() []Runner {
	runners := []Runner{c.API}
	if c.Hub != nil {
		runners = append(runners, c.Hub)
	}
	if c.Monitor != nil {
		runners = append(runners, c.Monitor)
	}
	if c.Metrics != nil {
		runners = append(runners, c.Metrics)
	}
	return runners
}

// Close waits for pending alert deliveries and releases backends
func (c *Components) Close(ctx context.Context) {
	if c.Alerts != nil {
		done := make(chan struct{})
		go func() {
			c.Alerts.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			c.logger.Warn("Timed out waiting for alert deliveries")
		}
	}
	if c.pool != nil {
		c.pool.Stop()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			c.logger.Warn("Failed to close component", "error", err)
		}
	}
}

func (c *Components) fail(err error) error {
	c.Close(context.Background())
	return err
}
