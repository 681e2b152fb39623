package bus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// MemoryBus is an in-process Bus. It is the default when no NATS URL is
// configured and the only implementation used by tests.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]*memorySubscription
	closed atomic.Bool
}

// NewMemoryBus creates an in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]*memorySubscription),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	msg := Message{Subject: subject, Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.closed.Load() {
			continue
		}
		if !matchSubject(sub.subject, subject) {
			continue
		}
		// Non-blocking send; a subscriber that cannot keep up loses events
		// rather than stalling publishers.
		select {
		case sub.messages <- msg:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub := &memorySubscription{
		id:       ulid.Make().String(),
		bus:      b,
		subject:  subject,
		messages: make(chan Message, 64),
		done:     make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case msg := <-sub.messages:
				handler(msg)
			case <-sub.done:
				return
			case <-ctx.Done():
				_ = sub.Unsubscribe()
				return
			}
		}
	}()
	return sub, nil
}

// Close shuts down the bus and all subscriptions.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		sub.stop()
		delete(b.subs, id)
	}
	return nil
}

type memorySubscription struct {
	id       string
	bus      *MemoryBus
	subject  string
	messages chan Message
	done     chan struct{}
	closed   atomic.Bool
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.stop()
	return nil
}

func (s *memorySubscription) Subject() string {
	return s.subject
}

func (s *memorySubscription) stop() {
	if s.closed.Swap(true) {
		return
	}
	close(s.done)
}

// matchSubject reports whether a dot-separated subject matches a pattern.
// "*" matches exactly one token; a trailing ">" matches one or more.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	pTokens := strings.Split(pattern, ".")
	sTokens := strings.Split(subject, ".")
	for i, pt := range pTokens {
		if pt == ">" {
			return i == len(pTokens)-1 && len(sTokens) > i
		}
		if i >= len(sTokens) {
			return false
		}
		if pt != "*" && pt != sTokens[i] {
			return false
		}
	}
	return len(pTokens) == len(sTokens)
}
