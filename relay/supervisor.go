package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yitech/candlerelay/adapter"
	"github.com/yitech/candlerelay/model/candle"
)

// State is the upstream connection state owned by the Supervisor.
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribing
	Live
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribing:
		return "subscribing"
	case Live:
		return "live"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	DefaultBootstrapRetry = 10 * time.Second
	DefaultReconnectDelay = 5 * time.Second
)

// Scheduler produces retry timers. Tests swap in one that fires immediately.
type Scheduler interface {
	After(d time.Duration) <-chan time.Time
}

type timerScheduler struct{}

func (timerScheduler) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Publisher receives every normalized upstream update.
type Publisher interface {
	Publish(u candle.LiveUpdate)
}

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	Symbol         string
	Interval       string
	BootstrapRetry time.Duration
	ReconnectDelay time.Duration
	Scheduler      Scheduler
	// OnState, if set, is called synchronously on every transition.
	OnState func(State)
	Logger  *slog.Logger
}

// Supervisor keeps exactly one upstream stream alive, reconnecting with
// fixed delays for as long as Run's context lives.
type Supervisor struct {
	feed  adapter.Feed
	pub   Publisher
	opts  SupervisorOptions
	state atomic.Int32
	log   *slog.Logger

	running sync.Mutex
}

func NewSupervisor(feed adapter.Feed, pub Publisher, opts SupervisorOptions) *Supervisor {
	if opts.BootstrapRetry <= 0 {
		opts.BootstrapRetry = DefaultBootstrapRetry
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Scheduler == nil {
		opts.Scheduler = timerScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{
		feed: feed,
		pub:  pub,
		opts: opts,
		log:  opts.Logger.With("symbol", opts.Symbol, "interval", opts.Interval),
	}
}

func (s *Supervisor) State() State { return State(s.state.Load()) }

func (s *Supervisor) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev == st {
		return
	}
	s.log.Info("upstream state", "from", prev, "to", st)
	if s.opts.OnState != nil {
		s.opts.OnState(st)
	}
}

// Run drives the connection state machine until ctx is cancelled. Upstream
// failures never end it; the returned error is always nil.
func (s *Supervisor) Run(ctx context.Context) error {
	s.running.Lock()
	defer s.running.Unlock()
	defer s.setState(Disconnected)

	for {
		delay, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.log.Warn("upstream unavailable", "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-s.opts.Scheduler.After(delay):
		}
	}
}

// runOnce performs one connect/subscribe/stream cycle and returns the delay
// before the next attempt.
func (s *Supervisor) runOnce(ctx context.Context) (time.Duration, error) {
	s.setState(Connecting)
	stream, err := s.feed.Connect(ctx)
	if err != nil {
		if errors.Is(err, adapter.ErrBootstrap) {
			s.setState(Disconnected)
			return s.opts.BootstrapRetry, err
		}
		s.setState(Failed)
		s.setState(Disconnected)
		return s.opts.ReconnectDelay, err
	}
	defer stream.Close()

	s.setState(Subscribing)
	if err := stream.Subscribe(s.opts.Symbol, s.opts.Interval); err != nil {
		s.setState(Failed)
		s.setState(Disconnected)
		return s.opts.ReconnectDelay, err
	}
	s.setState(Live)

	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	n := 0
	for u := range stream.Events() {
		if ctx.Err() != nil {
			break
		}
		s.pub.Publish(u)
		n++
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-stream.Done():
	}

	err = stream.Err()
	if err == nil {
		err = adapter.ErrConnectionClosed
	}
	s.log.Info("upstream stream ended", "updates", n)
	s.setState(Disconnected)
	return s.opts.ReconnectDelay, err
}
