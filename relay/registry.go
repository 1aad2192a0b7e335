package relay

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscriber is the registry's handle on one downstream connection.
// The outbound channel is never closed; liveness is signalled by Done.
type Subscriber struct {
	id      string
	out     chan []byte
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// NewSubscriber creates a subscriber with an outbound buffer of size buffer.
func NewSubscriber(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 1
	}
	return &Subscriber{
		id:   uuid.NewString(),
		out:  make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (s *Subscriber) ID() string { return s.id }

// C yields encoded messages queued for this subscriber.
func (s *Subscriber) C() <-chan []byte { return s.out }

// Done is closed once the subscriber's connection is gone.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Dropped returns how many messages were skipped because the buffer was full.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// Close marks the subscriber dead. Safe to call more than once.
func (s *Subscriber) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscriber) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// offer queues msg without blocking and reports whether it was accepted.
func (s *Subscriber) offer(msg []byte) bool {
	if !s.alive() {
		return false
	}
	select {
	case s.out <- msg:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Registry tracks the currently connected subscribers.
type Registry struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[*Subscriber]struct{})}
}

func (r *Registry) Register(s *Subscriber) {
	r.mu.Lock()
	r.subs[s] = struct{}{}
	r.mu.Unlock()
}

// Deregister removes s and reports whether it was a member.
func (r *Registry) Deregister(s *Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[s]; !ok {
		return false
	}
	delete(r.subs, s)
	return true
}

// Snapshot returns a copy of the membership, so callers may iterate while
// others register or deregister.
func (r *Registry) Snapshot() []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscriber, 0, len(r.subs))
	for s := range r.subs {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
