package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/yitech/candlerelay/adapter"
	"github.com/yitech/candlerelay/model/candle"
)

// FetchError is returned for any failed history request. It wraps the
// provider cause and matches adapter.ErrHistory.
type FetchError struct {
	Symbol   string
	Interval string
	Cause    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("history %s/%s: %v", e.Symbol, e.Interval, e.Cause)
}

func (e *FetchError) Unwrap() []error { return []error{adapter.ErrHistory, e.Cause} }

// Cache stores encoded history batches for a short time.
type Cache interface {
	Get(ctx context.Context, symbol, interval string) (candle.HistoryBatch, bool, error)
	Set(ctx context.Context, symbol, interval string, batch candle.HistoryBatch) error
}

// Options configures a Service.
type Options struct {
	// DefaultSymbol and DefaultInterval fill in blank request fields.
	DefaultSymbol   string
	DefaultInterval string
	// Timeout bounds a single upstream call. Zero means no extra bound.
	Timeout time.Duration
	// RateLimit is the sustained upstream call rate per second; <= 0 disables.
	RateLimit float64
	Burst     int
	Cache     Cache
	Logger    *slog.Logger
}

// Service answers history requests on behalf of downstream sessions.
type Service struct {
	client  adapter.HistoryClient
	limiter *rate.Limiter
	cache   Cache
	timeout time.Duration
	symbol  string
	iv      string
	log     *slog.Logger
}

func New(client adapter.HistoryClient, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		if opts.Burst <= 0 {
			opts.Burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst)
	}
	return &Service{
		client:  client,
		limiter: limiter,
		cache:   opts.Cache,
		timeout: opts.Timeout,
		symbol:  opts.DefaultSymbol,
		iv:      opts.DefaultInterval,
		log:     opts.Logger,
	}
}

// Fetch returns the oldest-first history for symbol/interval. An empty
// upstream result is an empty batch, not an error.
func (s *Service) Fetch(ctx context.Context, symbol, interval string) (candle.HistoryBatch, error) {
	if symbol == "" {
		symbol = s.symbol
	}
	if interval == "" {
		interval = s.iv
	}
	if symbol == "" || interval == "" {
		return nil, &FetchError{Symbol: symbol, Interval: interval, Cause: fmt.Errorf("symbol and interval are required")}
	}

	if s.cache != nil {
		batch, ok, err := s.cache.Get(ctx, symbol, interval)
		if err != nil {
			s.log.Warn("history cache get failed", "symbol", symbol, "interval", interval, "error", err)
		} else if ok {
			return batch, nil
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Symbol: symbol, Interval: interval, Cause: err}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := s.client.Klines(ctx, symbol, interval)
	if err != nil {
		return nil, &FetchError{Symbol: symbol, Interval: interval, Cause: err}
	}

	batch := candle.Order(raw)
	s.log.Debug("history fetched",
		"symbol", symbol, "interval", interval,
		"count", len(batch), "elapsed", time.Since(start))

	if s.cache != nil && len(batch) > 0 {
		if err := s.cache.Set(ctx, symbol, interval, batch); err != nil {
			s.log.Warn("history cache set failed", "symbol", symbol, "interval", interval, "error", err)
		}
	}
	return batch, nil
}
