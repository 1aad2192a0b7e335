package relay

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/yitech/candlerelay/model/candle"
)

// Router fans live updates out to every registered subscriber.
//
// Sends never block: a subscriber with a full buffer misses that update and a
// subscriber whose connection is gone is deregistered. Per-subscriber order is
// preserved because Publish is only called from the supervisor's receive loop.
type Router struct {
	reg *Registry
	log *slog.Logger

	mu     sync.RWMutex
	latest *candle.LiveUpdate

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewRouter(reg *Registry, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{reg: reg, log: log}
}

func (r *Router) Publish(u candle.LiveUpdate) {
	msg, err := encodePush(u)
	if err != nil {
		r.log.Error("encode live update", "topic", u.Topic, "error", err)
		return
	}

	r.mu.Lock()
	r.latest = &u
	r.mu.Unlock()
	r.published.Add(1)

	for _, sub := range r.reg.Snapshot() {
		if !sub.alive() {
			r.reg.Deregister(sub)
			continue
		}
		if !sub.offer(msg) {
			r.dropped.Add(1)
			r.log.Debug("subscriber skipped", "subscriber", sub.ID(), "topic", u.Topic)
		}
	}
}

// Latest returns the most recently published update.
func (r *Router) Latest() (candle.LiveUpdate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latest == nil {
		return candle.LiveUpdate{}, false
	}
	return *r.latest, true
}

// Stats returns the number of published updates and skipped deliveries.
func (r *Router) Stats() (published, dropped uint64) {
	return r.published.Load(), r.dropped.Load()
}
