package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grafana/pyroscope-go"
	"golang.org/x/sync/errgroup"

	"github.com/yitech/candlerelay/config"
	"github.com/yitech/candlerelay/relay"
	"github.com/yitech/candlerelay/server"
)

// App holds the process components built by Wire.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Supervisor *relay.Supervisor
	Server     *server.Server
}

// Run starts the upstream supervisor and both listeners and blocks until ctx
// is cancelled or one of them fails. Listeners get cfg.Server.ShutdownTimeout
// to drain.
func (a *App) Run(ctx context.Context) error {
	stopProfiler, err := startProfiler(a.Config.Profiling, a.Logger)
	if err != nil {
		return err
	}
	defer stopProfiler()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.Supervisor.Run(ctx) })
	g.Go(a.Server.Start)
	g.Go(a.Server.StartGRPC)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	a.Logger.Info("relay started",
		"symbol", a.Config.Feed.Symbol,
		"interval", a.Config.Feed.Interval,
		"addr", a.Config.Server.Addr,
		"grpc_addr", a.Config.Server.GRPCAddr,
	)
	return g.Wait()
}

func startProfiler(cfg config.ProfilingConfig, log *slog.Logger) (func(), error) {
	if cfg.PyroscopeAddr == "" {
		return func() {}, nil
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.AppName,
		ServerAddress:   cfg.PyroscopeAddr,
		Logger:          pyroscopeLogger{log.With("component", "pyroscope")},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pyroscope start failed: %w", err)
	}
	log.Info("profiling enabled", "server", cfg.PyroscopeAddr)
	return func() { _ = profiler.Stop() }, nil
}

type pyroscopeLogger struct {
	log *slog.Logger
}

func (l pyroscopeLogger) Infof(format string, args ...any)  { l.log.Debug(fmt.Sprintf(format, args...)) }
func (l pyroscopeLogger) Debugf(format string, args ...any) { l.log.Debug(fmt.Sprintf(format, args...)) }
func (l pyroscopeLogger) Errorf(format string, args ...any) { l.log.Error(fmt.Sprintf(format, args...)) }
