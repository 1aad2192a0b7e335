package kucoin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yitech/candlerelay/adapter"
	"github.com/yitech/candlerelay/model/candle"
)

// welcomeTimeout bounds the wait for the server greeting after dial.
const welcomeTimeout = 10 * time.Second

// dialSocket opens the websocket and waits for KuCoin's welcome frame.
func dialSocket(ctx context.Context, dialer *websocket.Dialer, u string) (*websocket.Conn, error) {
	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(welcomeTimeout))
	var m wsMsg
	if err := conn.ReadJSON(&m); err != nil {
		conn.Close()
		return nil, fmt.Errorf("welcome: %w", err)
	}
	if m.Type != "welcome" {
		conn.Close()
		return nil, fmt.Errorf("welcome: unexpected frame type %q", m.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn, nil
}

// stream implements adapter.Stream over one KuCoin websocket session.
type stream struct {
	conn      *websocket.Conn
	keepalive time.Duration
	log       *slog.Logger

	events chan candle.LiveUpdate
	done   chan struct{}
	stop   chan struct{}

	writeMu    sync.Mutex
	subscribed atomic.Bool
	closing    atomic.Bool
	stopOnce   sync.Once
	failOnce   sync.Once

	errMu sync.Mutex
	err   error
}

func newStream(conn *websocket.Conn, keepalive time.Duration, log *slog.Logger) *stream {
	return &stream{
		conn:      conn,
		keepalive: keepalive,
		log:       log,
		events:    make(chan candle.LiveUpdate, 64),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
	}
}

func (s *stream) Events() <-chan candle.LiveUpdate { return s.events }

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Subscribe sends the candle subscription and starts the read and ping loops.
func (s *stream) Subscribe(symbol, interval string) error {
	if !s.subscribed.CompareAndSwap(false, true) {
		return errors.New("kucoin: stream already subscribed")
	}

	topic := Topic(symbol, interval)
	subMsg := wsMsg{
		ID:       uuid.NewString(),
		Type:     "subscribe",
		Topic:    topic,
		Response: true,
	}
	if err := s.writeJSON(subMsg); err != nil {
		return fmt.Errorf("kucoin: subscribe %s: %w", topic, err)
	}

	go s.readLoop()
	go s.pingLoop()
	return nil
}

// Close terminates the session without firing Done.
func (s *stream) Close() error {
	s.closing.Store(true)
	s.stopOnce.Do(func() { close(s.stop) })

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	err := s.conn.Close()

	// Read loop never started, nothing else will close events.
	if !s.subscribed.Load() {
		s.subscribed.Store(true)
		close(s.events)
	}
	return err
}

func (s *stream) fail(err error) {
	if s.closing.Load() {
		return
	}
	s.failOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		s.stopOnce.Do(func() { close(s.stop) })
		s.conn.Close()
		close(s.done)
	})
}

func (s *stream) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(v)
}

func (s *stream) readLoop() {
	defer close(s.events)

	// A healthy session answers every ping, so silence for three keep-alive
	// periods means the peer is gone.
	readTimeout := 3 * s.keepalive

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(fmt.Errorf("%w: read: %w", adapter.ErrConnectionClosed, err))
			return
		}

		u, ok, err := parseWsMessage(msg)
		if err != nil {
			s.log.Warn("dropping feed message", "error", err)
			continue
		}
		if !ok {
			continue
		}

		select {
		case s.events <- u:
		case <-s.stop:
			return
		}
	}
}

// pingLoop sends the application-level ping KuCoin requires; without it the
// server drops the connection.
func (s *stream) pingLoop() {
	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.writeJSON(wsMsg{ID: uuid.NewString(), Type: "ping"}); err != nil {
				s.fail(fmt.Errorf("%w: ping: %w", adapter.ErrConnectionClosed, err))
				return
			}
		}
	}
}

// wsMsg is the generic KuCoin websocket envelope, used both ways.
type wsMsg struct {
	ID             string          `json:"id,omitempty"`
	Type           string          `json:"type"`
	Topic          string          `json:"topic,omitempty"`
	Subject        string          `json:"subject,omitempty"`
	PrivateChannel bool            `json:"privateChannel,omitempty"`
	Response       bool            `json:"response,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// wsCandle is the data payload of a candle.stick message.
//
// candles array layout:
//
//	[0] time      (period start, s or ms)
//	[1] open
//	[2] close
//	[3] high
//	[4] low
//	[5] volume, unused
//	[6] turnover, unused
type wsCandle struct {
	Symbol  string            `json:"symbol"`
	Candles []json.RawMessage `json:"candles"`
	Time    int64             `json:"time"`
}

// parseWsMessage returns ok=false for control frames (welcome, ack, pong)
// and an error wrapping adapter.ErrMalformed for unusable candle frames.
func parseWsMessage(msg []byte) (candle.LiveUpdate, bool, error) {
	var m wsMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return candle.LiveUpdate{}, false, fmt.Errorf("%w: %w", adapter.ErrMalformed, err)
	}
	if m.Type != "message" {
		return candle.LiveUpdate{}, false, nil
	}
	if m.Subject != "candle.stick" && !candle.IsCandleTopic(m.Topic) {
		return candle.LiveUpdate{}, false, nil
	}

	var d wsCandle
	if err := json.Unmarshal(m.Data, &d); err != nil {
		return candle.LiveUpdate{}, false, fmt.Errorf("%w: %s data: %w", adapter.ErrMalformed, m.Topic, err)
	}

	c, err := candleFromRow(d.Candles, true)
	if err != nil {
		return candle.LiveUpdate{}, false, fmt.Errorf("%w: %s: %w", adapter.ErrMalformed, m.Topic, err)
	}
	return candle.LiveUpdate{Topic: m.Topic, Candle: c}, true, nil
}
