package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/yitech/candlerelay/model/candle"
)

// ErrSessionClosed is returned by Conn implementations once the session has
// been torn down locally.
var ErrSessionClosed = errors.New("relay: session closed")

// Conn is one downstream transport connection carrying JSON frames.
// WriteMessage is only ever called from a single goroutine.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(msg []byte) error
	Close() error
}

// Fetcher answers history requests.
type Fetcher interface {
	Fetch(ctx context.Context, symbol, interval string) (candle.HistoryBatch, error)
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// Buffer is the live-update queue depth for this subscriber.
	Buffer int
	Logger *slog.Logger
}

// Session serves one downstream connection from connect to close.
type Session struct {
	conn    Conn
	reg     *Registry
	router  *Router
	fetcher Fetcher
	sub     *Subscriber
	replies chan []byte
	log     *slog.Logger

	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewSession(conn Conn, reg *Registry, router *Router, fetcher Fetcher, opts SessionOptions) *Session {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	sub := NewSubscriber(opts.Buffer)
	return &Session{
		conn:    conn,
		reg:     reg,
		router:  router,
		fetcher: fetcher,
		sub:     sub,
		replies: make(chan []byte, 4),
		log:     opts.Logger.With("session", sub.ID()),
	}
}

// Subscriber exposes the registry handle, mainly for tests and metrics.
func (s *Session) Subscriber() *Subscriber { return s.sub }

// Run registers the session and serves it until the connection fails, the
// peer goes away or ctx is cancelled. It returns the read error that ended
// the session, or nil on cancellation.
func (s *Session) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.reg.Register(s.sub)
	s.log.Debug("session opened", "subscribers", s.reg.Len())

	// Installed after Register so an already-cancelled ctx cannot deregister
	// ahead of it.
	stop := context.AfterFunc(ctx, s.terminate)
	defer func() {
		stop()
		s.terminate()
		s.wg.Wait()
		s.log.Debug("session closed", "dropped", s.sub.Dropped())
	}()

	if u, ok := s.router.Latest(); ok {
		if msg, err := encodePush(u); err == nil {
			s.sub.offer(msg)
		}
	}

	s.wg.Add(1)
	go s.writeLoop(ctx)

	for {
		msg, err := s.conn.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.handle(ctx, msg)
	}
}

// terminate deregisters and closes the connection exactly once.
func (s *Session) terminate() {
	s.once.Do(func() {
		s.cancel()
		s.reg.Deregister(s.sub)
		s.sub.Close()
		if err := s.conn.Close(); err != nil {
			s.log.Debug("close connection", "error", err)
		}
	})
}

func (s *Session) handle(ctx context.Context, msg []byte) {
	var req Request
	if err := json.Unmarshal(msg, &req); err != nil {
		s.log.Debug("ignoring unparseable frame", "error", err)
		return
	}

	switch req.Topic {
	case TopicRequestHistory:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveHistory(ctx, req)
		}()
	default:
		s.log.Debug("ignoring request", "topic", req.Topic)
	}
}

func (s *Session) serveHistory(ctx context.Context, req Request) {
	batch, err := s.fetcher.Fetch(ctx, req.Symbol, req.Interval)
	if ctx.Err() != nil {
		return
	}

	var reply []byte
	if err != nil {
		s.log.Warn("history request failed", "symbol", req.Symbol, "interval", req.Interval, "error", err)
		reply, err = encodeError(err.Error())
	} else {
		reply, err = encodeHistory(batch)
	}
	if err != nil {
		s.log.Error("encode history reply", "error", err)
		return
	}

	select {
	case s.replies <- reply:
	case <-ctx.Done():
	}
}

// writeLoop is the only writer to the connection.
func (s *Session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		var msg []byte
		select {
		case <-ctx.Done():
			return
		case msg = <-s.sub.C():
		case msg = <-s.replies:
		}
		if err := s.conn.WriteMessage(msg); err != nil {
			s.log.Debug("write failed", "error", err)
			s.terminate()
			return
		}
	}
}
