package kucoin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yitech/candlerelay/adapter"
	"github.com/yitech/candlerelay/model/candle"
)

const (
	// DefaultRESTURL is the KuCoin futures public REST base.
	DefaultRESTURL = "https://api-futures.kucoin.com"
	// DefaultKeepalive is how often a ping is sent on the socket.
	DefaultKeepalive = 25 * time.Second
)

var (
	_ adapter.Feed          = (*Adapter)(nil)
	_ adapter.HistoryClient = (*Adapter)(nil)
)

// Options configures an Adapter. Zero values fall back to defaults.
type Options struct {
	RESTURL          string
	Keepalive        time.Duration
	HandshakeTimeout time.Duration
	HTTPClient       *http.Client
	Logger           *slog.Logger
}

// Adapter is the KuCoin futures market-data adapter.
type Adapter struct {
	restURL    string
	keepalive  time.Duration
	httpClient *http.Client
	dialer     *websocket.Dialer
	log        *slog.Logger
}

func New(opts Options) *Adapter {
	if opts.RESTURL == "" {
		opts.RESTURL = DefaultRESTURL
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Adapter{
		restURL:    opts.RESTURL,
		keepalive:  opts.Keepalive,
		httpClient: opts.HTTPClient,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		log: opts.Logger.With("provider", "kucoin"),
	}
}

// Connect requests a public bullet token and opens the socket it points to.
func (a *Adapter) Connect(ctx context.Context) (adapter.Stream, error) {
	ep, err := fetchBullet(ctx, a.httpClient, a.restURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", adapter.ErrBootstrap, err)
	}
	a.log.Debug("bullet acquired", "endpoint", ep.host, "server_ping", ep.pingInterval)

	conn, err := dialSocket(ctx, a.dialer, ep.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", adapter.ErrConnect, err)
	}
	return newStream(conn, a.keepalive, a.log), nil
}

// Klines fetches raw historical candles in the order KuCoin returns them.
func (a *Adapter) Klines(ctx context.Context, symbol, interval string) ([]candle.Candle, error) {
	out, dropped, err := fetchKlines(ctx, a.httpClient, a.restURL, symbol, interval)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		a.log.Warn("dropped malformed klines", "symbol", symbol, "interval", interval, "count", dropped)
	}
	return out, nil
}

// Topic returns the candle channel name for symbol/interval,
// e.g. "/contractMarket/limitCandle:SOLUSDTM_1min".
func Topic(symbol, interval string) string {
	return "/contractMarket/limitCandle:" + symbol + "_" + interval
}
