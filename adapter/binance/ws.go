package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yitech/candlerelay/adapter"
	"github.com/yitech/candlerelay/model/candle"
)

// stream implements adapter.Stream over one Binance raw websocket.
type stream struct {
	conn      *websocket.Conn
	keepalive time.Duration
	log       *slog.Logger

	events chan candle.LiveUpdate
	done   chan struct{}
	stop   chan struct{}

	subscribed atomic.Bool
	closing    atomic.Bool
	stopOnce   sync.Once
	failOnce   sync.Once
	nextID     atomic.Int64

	errMu sync.Mutex
	err   error
}

func newStream(conn *websocket.Conn, keepalive time.Duration, log *slog.Logger) *stream {
	s := &stream{
		conn:      conn,
		keepalive: keepalive,
		log:       log,
		events:    make(chan candle.LiveUpdate, 64),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(3 * keepalive))
	})
	return s
}

func (s *stream) Events() <-chan candle.LiveUpdate { return s.events }

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

type subscribeMsg struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (s *stream) Subscribe(symbol, interval string) error {
	if !s.subscribed.CompareAndSwap(false, true) {
		return errors.New("binance: stream already subscribed")
	}

	name := streamName(symbol, interval)
	msg := subscribeMsg{Method: "SUBSCRIBE", Params: []string{name}, ID: s.nextID.Add(1)}
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("binance: subscribe %s: %w", name, err)
	}

	go s.readLoop(interval)
	go s.pingLoop()
	return nil
}

// Close terminates the session without firing Done.
func (s *stream) Close() error {
	s.closing.Store(true)
	s.stopOnce.Do(func() { close(s.stop) })
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := s.conn.Close()

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

// readLoop tags updates with the relay interval name rather than Binance's
// short form so topics match what clients subscribed with.
func (s *stream) readLoop(interval string) {
	defer close(s.events)

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(3 * s.keepalive))
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(fmt.Errorf("%w: read: %w", adapter.ErrConnectionClosed, err))
			return
		}

		u, ok, err := parseWsMessage(msg, interval)
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

// pingLoop sends protocol pings; the pong handler keeps the read deadline
// moving on quiet streams.
func (s *stream) pingLoop() {
	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				s.fail(fmt.Errorf("%w: ping: %w", adapter.ErrConnectionClosed, err))
				return
			}
		}
	}
}

// wsKlineMsg is the Binance kline stream event. encoding/json falls back to
// case-insensitive key matching, so every upper-case key that shares a letter
// with a field we read (E, T, L, V, Q) needs its own field.
type wsKlineMsg struct {
	EventType string          `json:"e"`
	EventTime json.RawMessage `json:"E"`
	Symbol    string          `json:"s"`
	Kline     *struct {
		OpenTime    int64           `json:"t"`
		CloseTime   json.RawMessage `json:"T"`
		Open        json.RawMessage `json:"o"`
		High        json.RawMessage `json:"h"`
		Low         json.RawMessage `json:"l"`
		LastTradeID json.RawMessage `json:"L"`
		Close       json.RawMessage `json:"c"`
		Volume      json.RawMessage `json:"v"`
		TakerVolume json.RawMessage `json:"V"`
		QuoteVolume json.RawMessage `json:"q"`
		TakerQuote  json.RawMessage `json:"Q"`
	} `json:"k"`
}

// parseWsMessage returns ok=false for subscription acks and other events.
func parseWsMessage(msg []byte, interval string) (candle.LiveUpdate, bool, error) {
	var m wsKlineMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return candle.LiveUpdate{}, false, fmt.Errorf("%w: %w", adapter.ErrMalformed, err)
	}
	if m.EventType != "kline" {
		return candle.LiveUpdate{}, false, nil
	}
	if m.Kline == nil || m.Symbol == "" {
		return candle.LiveUpdate{}, false, fmt.Errorf("%w: kline event without payload", adapter.ErrMalformed)
	}

	k := m.Kline
	var f [4]float64
	for i, raw := range []json.RawMessage{k.Open, k.High, k.Low, k.Close} {
		v, err := parseNumber(raw)
		if err != nil {
			return candle.LiveUpdate{}, false, fmt.Errorf("%w: %s: %w", adapter.ErrMalformed, m.Symbol, err)
		}
		f[i] = v
	}

	c := candle.Candle{
		Time:  candle.NormalizeEpoch(k.OpenTime),
		Open:  f[0],
		High:  f[1],
		Low:   f[2],
		Close: f[3],
	}
	if !c.Valid() {
		return candle.LiveUpdate{}, false, fmt.Errorf("%w: %s: non-finite price", adapter.ErrMalformed, m.Symbol)
	}
	return candle.LiveUpdate{Topic: Topic(m.Symbol, interval), Candle: c}, true, nil
}
