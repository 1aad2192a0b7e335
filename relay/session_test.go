package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yitech/candlerelay/model/candle"
)

type fakeConn struct {
	in         chan []byte
	out        chan []byte
	closed     chan struct{}
	once       sync.Once
	failWrites atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 8),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage(context.Context) ([]byte, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.closed:
		return nil, ErrSessionClosed
	}
}

func (c *fakeConn) WriteMessage(msg []byte) error {
	if c.failWrites.Load() {
		return errors.New("broken pipe")
	}
	select {
	case c.out <- msg:
		return nil
	case <-c.closed:
		return ErrSessionClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) send(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	c.in <- b
}

func (c *fakeConn) next(t *testing.T) map[string]json.RawMessage {
	t.Helper()
	select {
	case raw := <-c.out:
		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(raw, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no frame written")
	}
	return nil
}

func topicOf(t *testing.T, m map[string]json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(m["topic"], &s))
	return s
}

type fetchFunc func(ctx context.Context, symbol, interval string) (candle.HistoryBatch, error)

func (f fetchFunc) Fetch(ctx context.Context, symbol, interval string) (candle.HistoryBatch, error) {
	return f(ctx, symbol, interval)
}

type sessionHarness struct {
	conn   *fakeConn
	reg    *Registry
	router *Router
	sess   *Session
	cancel context.CancelFunc
	result chan error
}

func startSession(t *testing.T, fetcher Fetcher) *sessionHarness {
	t.Helper()
	h := &sessionHarness{
		conn:   newFakeConn(),
		reg:    NewRegistry(),
		result: make(chan error, 1),
	}
	h.router = NewRouter(h.reg, nil)
	h.sess = NewSession(h.conn, h.reg, h.router, fetcher, SessionOptions{Buffer: 8})

	ctx, cancel := context.WithCancel(t.Context())
	h.cancel = cancel
	go func() { h.result <- h.sess.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		h.wait(t)
	})

	require.Eventually(t, func() bool { return h.reg.Len() == 1 }, time.Second, 5*time.Millisecond)
	return h
}

func (h *sessionHarness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err, ok := <-h.result:
		if !ok {
			return nil
		}
		close(h.result)
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
	return nil
}

func TestSessionHistoryRequest(t *testing.T) {
	var gotSymbol, gotInterval string
	h := startSession(t, fetchFunc(func(_ context.Context, symbol, interval string) (candle.HistoryBatch, error) {
		gotSymbol, gotInterval = symbol, interval
		return candle.Order([]candle.Candle{
			{Time: 2, Open: 10, Close: 12, High: 13, Low: 9},
			{Time: 1, Open: 8, Close: 9, High: 9, Low: 7},
		}), nil
	}))

	h.conn.send(t, Request{Topic: TopicRequestHistory, Symbol: "SOLUSDTM", Interval: "1min"})

	m := h.conn.next(t)
	assert.Equal(t, TopicHistoryData, topicOf(t, m))
	assert.JSONEq(t,
		`[{"time":1,"open":8,"close":9,"high":9,"low":7},{"time":2,"open":10,"close":12,"high":13,"low":9}]`,
		string(m["data"]))
	assert.Equal(t, "SOLUSDTM", gotSymbol)
	assert.Equal(t, "1min", gotInterval)
}

func TestSessionEmptyHistory(t *testing.T) {
	h := startSession(t, fetchFunc(func(context.Context, string, string) (candle.HistoryBatch, error) {
		return nil, nil
	}))

	h.conn.send(t, Request{Topic: TopicRequestHistory, Symbol: "SOLUSDTM", Interval: "1min"})

	m := h.conn.next(t)
	assert.Equal(t, TopicHistoryData, topicOf(t, m))
	assert.JSONEq(t, `[]`, string(m["data"]))
}

func TestSessionHistoryError(t *testing.T) {
	h := startSession(t, fetchFunc(func(context.Context, string, string) (candle.HistoryBatch, error) {
		return nil, errors.New("upstream 502")
	}))

	h.conn.send(t, Request{Topic: TopicRequestHistory, Symbol: "SOLUSDTM", Interval: "1min"})

	m := h.conn.next(t)
	assert.Equal(t, TopicError, topicOf(t, m))
	assert.Contains(t, string(m["message"]), "upstream 502")
	assert.False(t, h.conn.isClosed())
}

func TestSessionIgnoresUnknownRequests(t *testing.T) {
	h := startSession(t, fetchFunc(func(context.Context, string, string) (candle.HistoryBatch, error) {
		return candle.HistoryBatch{{Time: 1}}, nil
	}))

	h.conn.in <- []byte(`garbage`)
	h.conn.send(t, map[string]string{"topic": "subscribe_everything"})
	h.conn.send(t, Request{Topic: TopicRequestHistory})

	m := h.conn.next(t)
	assert.Equal(t, TopicHistoryData, topicOf(t, m))
}

func TestSessionForwardsLiveUpdates(t *testing.T) {
	h := startSession(t, fetchFunc(func(context.Context, string, string) (candle.HistoryBatch, error) {
		return nil, nil
	}))

	h.router.Publish(update(60, 1))
	h.router.Publish(update(60, 2))
	h.router.Publish(update(120, 3))

	for _, want := range []float64{1, 2, 3} {
		m := h.conn.next(t)
		assert.Equal(t, testTopic, topicOf(t, m))
		var c candle.Candle
		require.NoError(t, json.Unmarshal(m["data"], &c))
		assert.Equal(t, want, c.Close)
	}
}

func TestSessionSendsLatestOnConnect(t *testing.T) {
	conn := newFakeConn()
	reg := NewRegistry()
	router := NewRouter(reg, nil)
	router.Publish(update(60, 7))

	sess := NewSession(conn, reg, router, fetchFunc(func(context.Context, string, string) (candle.HistoryBatch, error) {
		return nil, nil
	}), SessionOptions{})
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		_ = sess.Run(ctx)
		close(done)
	}()

	m := conn.next(t)
	assert.Equal(t, testTopic, topicOf(t, m))
	cancel()
	<-done
}

func TestSessionSlowHistoryDoesNotBlockLive(t *testing.T) {
	release := make(chan struct{})
	h := startSession(t, fetchFunc(func(ctx context.Context, _, _ string) (candle.HistoryBatch, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return candle.HistoryBatch{{Time: 1}}, nil
	}))

	h.conn.send(t, Request{Topic: TopicRequestHistory, Symbol: "SOLUSDTM", Interval: "1min"})
	h.router.Publish(update(60, 1))

	assert.Equal(t, testTopic, topicOf(t, h.conn.next(t)))

	close(release)
	assert.Equal(t, TopicHistoryData, topicOf(t, h.conn.next(t)))
}

func TestSessionDeregistersOnPeerClose(t *testing.T) {
	h := startSession(t, fetchFunc(func(context.Context, string, string) (candle.HistoryBatch, error) {
		return nil, nil
	}))
	sub := h.sess.Subscriber()

	require.NoError(t, h.conn.Close())

	err := h.wait(t)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, 0, h.reg.Len())

	select {
	case <-sub.Done():
	default:
		t.Fatal("subscriber still alive")
	}

	// Publishing afterwards must not reach the closed session.
	h.router.Publish(update(60, 1))
	assert.Empty(t, h.conn.out)
}

func TestSessionClosesOnWriteFailure(t *testing.T) {
	h := startSession(t, fetchFunc(func(context.Context, string, string) (candle.HistoryBatch, error) {
		return nil, nil
	}))
	h.conn.failWrites.Store(true)

	h.router.Publish(update(60, 1))

	h.wait(t)
	assert.True(t, h.conn.isClosed())
	assert.Equal(t, 0, h.reg.Len())
}

func TestSessionStopsOnCancel(t *testing.T) {
	h := startSession(t, fetchFunc(func(context.Context, string, string) (candle.HistoryBatch, error) {
		return nil, nil
	}))

	h.cancel()
	assert.NoError(t, h.wait(t))
	assert.True(t, h.conn.isClosed())
	assert.Equal(t, 0, h.reg.Len())
}

func TestSessionAlreadyCancelled(t *testing.T) {
	for range 50 {
		conn := newFakeConn()
		reg := NewRegistry()
		sess := NewSession(conn, reg, NewRouter(reg, nil), fetchFunc(func(context.Context, string, string) (candle.HistoryBatch, error) {
			return nil, nil
		}), SessionOptions{Buffer: 1})

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		require.NoError(t, sess.Run(ctx))
		assert.Equal(t, 0, reg.Len())
		assert.True(t, conn.isClosed())
	}
}
