package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yitech/candlerelay/relay"
)

const (
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 64 << 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebSocket serves the JSON relay protocol on an upgraded HTTP connection.
func (h *Hub) WebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		conn := newWSConn(c, wsPingInterval, wsReadTimeout)
		// The request context is not tied to the hijacked connection.
		err = h.serve(context.WithoutCancel(r.Context()), conn, "websocket")
		if err != nil && !isNormalClose(err) {
			h.log.Debug("websocket session ended", "remote", r.RemoteAddr, "error", err)
		}
	}
}

func isNormalClose(err error) bool {
	return errors.Is(err, relay.ErrSessionClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// wsConn adapts a gorilla connection to relay.Conn and keeps it alive with
// protocol pings.
type wsConn struct {
	c    *websocket.Conn
	stop chan struct{}
	once sync.Once
}

func newWSConn(c *websocket.Conn, pingEvery, readTimeout time.Duration) *wsConn {
	wc := &wsConn{c: c, stop: make(chan struct{})}

	c.SetReadLimit(wsReadLimit)
	_ = c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-wc.stop:
				return
			case <-ticker.C:
				if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()
	return wc
}

func (w *wsConn) ReadMessage(context.Context) ([]byte, error) {
	for {
		mt, data, err := w.c.ReadMessage()
		if err != nil {
			select {
			case <-w.stop:
				return nil, relay.ErrSessionClosed
			default:
				return nil, err
			}
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (w *wsConn) WriteMessage(msg []byte) error {
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.c.WriteMessage(websocket.TextMessage, msg)
}

func (w *wsConn) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		_ = w.c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = w.c.Close()
	})
	return err
}
