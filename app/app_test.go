package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yitech/candlerelay/adapter/binance"
	"github.com/yitech/candlerelay/adapter/kucoin"
	"github.com/yitech/candlerelay/config"
	"github.com/yitech/candlerelay/relay"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProvideCacheDisabled(t *testing.T) {
	cfg := config.Default()

	c, cleanup, err := ProvideCache(cfg, quietLogger())
	require.NoError(t, err)
	assert.Nil(t, c)
	cleanup()

	cfg.Redis.Addr = "127.0.0.1:1"
	c, cleanup, err = ProvideCache(cfg, quietLogger())
	require.NoError(t, err)
	assert.Nil(t, c)
	cleanup()
}

func TestProvideUpstream(t *testing.T) {
	cfg := config.Default()
	assert.IsType(t, &kucoin.Adapter{}, ProvideUpstream(cfg, quietLogger()))

	cfg.Feed.Provider = "binance"
	assert.IsType(t, &binance.Adapter{}, ProvideUpstream(cfg, quietLogger()))
}

func TestAppRunStopsOnCancel(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.GRPCAddr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = time.Second
	cfg.Feed.RESTURL = upstream.URL
	log := quietLogger()

	ctx, cancel := context.WithCancel(t.Context())
	k := ProvideUpstream(cfg, log)
	reg := ProvideRegistry()
	router := ProvideRouter(reg, log)
	sup := ProvideSupervisor(k, router, cfg, log)
	hub := ProvideHub(ctx, reg, router, ProvideHistory(k, nil, cfg, log), cfg, log)
	a := &App{
		Config:     cfg,
		Logger:     log,
		Supervisor: sup,
		Server:     ProvideServer(cfg, hub, ProvideHealth(sup, reg, router, nil, log), log),
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	assert.NotEqual(t, relay.Live, sup.State())
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Equal(t, relay.Disconnected, sup.State())
}
