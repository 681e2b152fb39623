// Package bus provides the session event feed: lifecycle and page-update
// events published per session so observers (dashboards, recorders) can
// follow live sessions without touching session internals. The default
// implementation is in-memory; a NATS-backed one is available for running
// multiple engine instances.
package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned when operating on a closed bus or subscription.
var ErrClosed = errors.New("bus or subscription closed")

// Message is one event delivered to a subscriber.
type Message struct {
	Subject string
	Data    []byte
}

// Handler processes incoming messages. Handlers run on the bus's delivery
// goroutine and must not block.
type Handler func(msg Message)

// Bus is the pub/sub surface for session events. Implementations must be
// safe for concurrent use.
type Bus interface {
	// Publish sends a message to all subscribers of the subject. It returns
	// immediately and never waits for delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the subject. Subjects
	// are dot-separated; a "*" token matches exactly one token and a
	// trailing ">" matches the rest ("session.*.updated", "session.>").
	Subscribe(ctx context.Context, subject string, handler Handler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription is one registered handler.
type Subscription interface {
	// Unsubscribe removes the handler; no messages are delivered after it
	// returns.
	Unsubscribe() error
	// Subject returns the subject pattern the subscription was created with.
	Subject() string
}

// Well-known session event subjects. The middle token is the session ID.
const (
	SubjectSessionCreated = "session.%s.created"
	SubjectSessionUpdated = "session.%s.updated"
	SubjectSessionErrored = "session.%s.errored"
	SubjectSessionClosed  = "session.%s.closed"
)
