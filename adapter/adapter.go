package adapter

import (
	"context"
	"errors"

	"github.com/yitech/candlerelay/model/candle"
)

// Upstream error taxonomy. Implementations wrap one of these so callers can
// branch with errors.Is without knowing the provider.
var (
	// ErrBootstrap means the endpoint/token request failed.
	ErrBootstrap = errors.New("upstream: bootstrap failed")
	// ErrConnect means the persistent socket could not be opened or handshaken.
	ErrConnect = errors.New("upstream: connect failed")
	// ErrConnectionClosed means an established stream terminated.
	ErrConnectionClosed = errors.New("upstream: connection closed")
	// ErrMalformed marks a feed frame that could not be normalized.
	ErrMalformed = errors.New("upstream: malformed feed message")
	// ErrHistory marks a failed historical-data request.
	ErrHistory = errors.New("upstream: history request failed")
)

// Feed defines the contract for an upstream streaming provider.
// Each Connect performs the provider handshake and yields a fresh Stream.
type Feed interface {
	// Connect obtains a connection endpoint and opens the socket.
	// Errors wrap ErrBootstrap or ErrConnect.
	Connect(ctx context.Context) (Stream, error)
}

// Stream is one live upstream connection.
type Stream interface {
	// Subscribe sends the subscribe command for symbol/interval and starts
	// the receive and keep-alive loops.
	Subscribe(symbol, interval string) error

	// Events yields normalized updates. The channel is closed when the
	// receive loop ends, whatever the cause.
	Events() <-chan candle.LiveUpdate

	// Done is closed once when the connection terminates on its own.
	// It is never closed by a consumer-initiated Close.
	Done() <-chan struct{}

	// Err reports why Done was closed.
	Err() error

	// Close shuts the connection down and releases all resources.
	Close() error
}

// HistoryClient fetches raw historical candles in provider order.
type HistoryClient interface {
	Klines(ctx context.Context, symbol, interval string) ([]candle.Candle, error)
}

// Provider is a market-data source serving both the live feed and history.
type Provider interface {
	Feed
	HistoryClient
}
