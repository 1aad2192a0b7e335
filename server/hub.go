package server

import (
	"context"
	"log/slog"

	"github.com/yitech/candlerelay/relay"
)

// Hub binds downstream transports to the relay core. Every accepted
// connection becomes one relay.Session.
type Hub struct {
	base    context.Context
	reg     *relay.Registry
	router  *relay.Router
	fetcher relay.Fetcher
	buffer  int
	log     *slog.Logger
}

// NewHub returns a Hub whose sessions end when base is cancelled.
func NewHub(base context.Context, reg *relay.Registry, router *relay.Router, fetcher relay.Fetcher, buffer int, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		base:    base,
		reg:     reg,
		router:  router,
		fetcher: fetcher,
		buffer:  buffer,
		log:     log,
	}
}

// serve runs a session for conn until it ends or either ctx or the hub's
// base context is cancelled.
func (h *Hub) serve(ctx context.Context, conn relay.Conn, transport string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.base, cancel)
	defer stop()

	sess := relay.NewSession(conn, h.reg, h.router, h.fetcher, relay.SessionOptions{
		Buffer: h.buffer,
		Logger: h.log.With("transport", transport),
	})
	return sess.Run(ctx)
}
