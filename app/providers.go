package app

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	"google.golang.org/grpc"

	"github.com/yitech/candlerelay/adapter"
	"github.com/yitech/candlerelay/adapter/binance"
	"github.com/yitech/candlerelay/adapter/kucoin"
	"github.com/yitech/candlerelay/cache"
	"github.com/yitech/candlerelay/config"
	"github.com/yitech/candlerelay/history"
	"github.com/yitech/candlerelay/logger"
	"github.com/yitech/candlerelay/relay"
	"github.com/yitech/candlerelay/server"
)

// ConfigPath is the YAML file handed to config.Load.
type ConfigPath string

// ProviderSet builds an App from a ConfigPath and a root context.
var ProviderSet = wire.NewSet(
	ProvideConfig,
	ProvideLogger,
	ProvideUpstream,
	ProvideCache,
	ProvideHistory,
	ProvideRegistry,
	ProvideRouter,
	ProvideSupervisor,
	ProvideHub,
	ProvideHealth,
	ProvideServer,
	wire.Struct(new(App), "*"),
)

func ProvideConfig(path ConfigPath) (*config.Config, error) {
	return config.Load(string(path))
}

// ProvideLogger also installs the logger as the slog default.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)
	return log
}

// ProvideUpstream returns the configured market-data provider.
func ProvideUpstream(cfg *config.Config, log *slog.Logger) adapter.Provider {
	if cfg.Feed.Provider == "binance" {
		return binance.New(binance.Options{
			RESTURL:   cfg.Feed.RESTURL,
			WSURL:     cfg.Feed.WSURL,
			Keepalive: cfg.Feed.Keepalive,
			Logger:    log,
		})
	}
	return kucoin.New(kucoin.Options{
		RESTURL:   cfg.Feed.RESTURL,
		Keepalive: cfg.Feed.Keepalive,
		Logger:    log,
	})
}

// ProvideCache connects the redis history cache. A missing address or an
// unreachable server yields a nil cache and history is fetched uncached.
func ProvideCache(cfg *config.Config, log *slog.Logger) (history.Cache, func(), error) {
	noop := func() {}
	if cfg.Redis.Addr == "" || cfg.History.CacheTTL <= 0 {
		return nil, noop, nil
	}
	r, err := cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.History.CacheTTL)
	if err != nil {
		log.Warn("history cache disabled", "addr", cfg.Redis.Addr, "error", err)
		return nil, noop, nil
	}
	log.Info("history cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.History.CacheTTL)
	return r, func() { _ = r.Close() }, nil
}

func ProvideHistory(k adapter.Provider, c history.Cache, cfg *config.Config, log *slog.Logger) *history.Service {
	return history.New(k, history.Options{
		DefaultSymbol:   cfg.Feed.Symbol,
		DefaultInterval: cfg.Feed.Interval,
		Timeout:         cfg.History.Timeout,
		RateLimit:       cfg.History.RateLimit,
		Burst:           cfg.History.Burst,
		Cache:           c,
		Logger:          log,
	})
}

func ProvideRegistry() *relay.Registry { return relay.NewRegistry() }

func ProvideRouter(reg *relay.Registry, log *slog.Logger) *relay.Router {
	return relay.NewRouter(reg, log)
}

func ProvideSupervisor(k adapter.Provider, router *relay.Router, cfg *config.Config, log *slog.Logger) *relay.Supervisor {
	return relay.NewSupervisor(k, router, relay.SupervisorOptions{
		Symbol:         cfg.Feed.Symbol,
		Interval:       cfg.Feed.Interval,
		BootstrapRetry: cfg.Feed.BootstrapRetry,
		ReconnectDelay: cfg.Feed.ReconnectDelay,
		Logger:         log,
	})
}

func ProvideHub(ctx context.Context, reg *relay.Registry, router *relay.Router, hist *history.Service, cfg *config.Config, log *slog.Logger) *server.Hub {
	return server.NewHub(ctx, reg, router, hist, cfg.Subscriber.Buffer, log)
}

func ProvideHealth(sup *relay.Supervisor, reg *relay.Registry, router *relay.Router, c history.Cache, log *slog.Logger) *server.HealthHandler {
	p, _ := c.(server.Pinger)
	return server.NewHealthHandler(sup.State, reg, router, p, log)
}

func ProvideServer(cfg *config.Config, hub *server.Hub, health *server.HealthHandler, log *slog.Logger) *server.Server {
	var gs *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		gs = server.NewGRPC(hub)
	}
	return server.NewServer(cfg.Server.Addr, server.NewMux(hub, health), cfg.Server.GRPCAddr, gs, log)
}
