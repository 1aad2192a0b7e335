package binance

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yitech/candlerelay/adapter"
	"github.com/yitech/candlerelay/model/candle"
)

const (
	DefaultRESTURL   = "https://api.binance.com"
	DefaultWSURL     = "wss://stream.binance.com:9443/ws"
	DefaultKeepalive = 30 * time.Second
)

var _ adapter.Provider = (*Adapter)(nil)

// Options configures an Adapter. Zero values fall back to defaults.
type Options struct {
	RESTURL    string
	WSURL      string
	Keepalive  time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Adapter is the Binance spot market-data adapter. Binance needs no token
// handshake, so Connect only dials the raw stream endpoint.
type Adapter struct {
	restURL    string
	wsURL      string
	keepalive  time.Duration
	httpClient *http.Client
	dialer     *websocket.Dialer
	log        *slog.Logger
}

func New(opts Options) *Adapter {
	if opts.RESTURL == "" {
		opts.RESTURL = DefaultRESTURL
	}
	if opts.WSURL == "" {
		opts.WSURL = DefaultWSURL
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Adapter{
		restURL:    strings.TrimRight(opts.RESTURL, "/"),
		wsURL:      opts.WSURL,
		keepalive:  opts.Keepalive,
		httpClient: opts.HTTPClient,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		log: opts.Logger.With("provider", "binance"),
	}
}

func (a *Adapter) Connect(ctx context.Context) (adapter.Stream, error) {
	conn, _, err := a.dialer.DialContext(ctx, a.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: binance: dial: %w", adapter.ErrConnect, err)
	}
	return newStream(conn, a.keepalive, a.log), nil
}

// Klines fetches the most recent klines, oldest first as Binance returns them.
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

// Topic returns the relay topic for symbol/interval,
// e.g. "/binance/candle:SOLUSDT_1min".
func Topic(symbol, interval string) string {
	return "/binance/candle:" + strings.ToUpper(symbol) + "_" + interval
}

// streamName maps symbol/interval onto Binance's raw stream name,
// e.g. "solusdt@kline_1m".
func streamName(symbol, interval string) string {
	return strings.ToLower(symbol) + "@kline_" + klineInterval(interval)
}

// klineInterval converts relay interval names (1min, 4hour, 1day, 1week) to
// Binance's (1m, 4h, 1d, 1w). Anything else passes through unchanged.
func klineInterval(interval string) string {
	for long, short := range map[string]string{"min": "m", "hour": "h", "day": "d", "week": "w"} {
		if n, ok := strings.CutSuffix(interval, long); ok && n != "" {
			return n + short
		}
	}
	return interval
}
