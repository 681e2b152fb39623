// Package session owns the protocol engine between an AI controller and one
// browser executor: the session state machine, the reference-table
// generation, and the single-in-flight action dispatcher.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/NeuralLift/browser-ai-integrations/pkg/bus"
	"github.com/NeuralLift/browser-ai-integrations/pkg/logging"
	"github.com/NeuralLift/browser-ai-integrations/pkg/page"
	"github.com/NeuralLift/browser-ai-integrations/pkg/protocol"
)

// Conn is the transport the session writes envelopes to. The gateway adapts
// the WebSocket connection to this; tests use fakes.
type Conn interface {
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Config bounds the session's two suspension points. Snapshot construction is
// local to the executor, so its default deadline is much shorter than the
// action deadline, which must cover navigation-triggered page loads.
type Config struct {
	SnapshotTimeout   time.Duration
	ActionTimeout     time.Duration
	IdempotentRetries int
}

// DefaultConfig returns the recommended timeouts and retry budget.
func DefaultConfig() Config {
	return Config{
		SnapshotTimeout:   10 * time.Second,
		ActionTimeout:     30 * time.Second,
		IdempotentRetries: 2,
	}
}

type actionOutcome struct {
	result protocol.ActionResult
	err    error
}

type snapshotOutcome struct {
	snap protocol.Snapshot
	err  error
}

// Session is one persistent connection between controller and executor. All
// mutation flows through envelopes exchanged on the connection; the session
// exclusively owns its reference table and in-flight slot.
type Session struct {
	id     string
	conn   Conn
	cfg    Config
	log    *logging.Logger
	events bus.Bus

	mu           sync.Mutex
	state        State
	refs         *page.RefTable
	actionWait   chan actionOutcome
	snapshotWait chan snapshotOutcome
	url          string
	title        string
}

// Option configures optional session collaborators.
type Option func(*Session)

// WithLogger attaches a structured logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithEventBus attaches the session event feed.
func WithEventBus(b bus.Bus) Option {
	return func(s *Session) { s.events = b }
}

// New creates a session in the Connecting state.
func New(id string, conn Conn, cfg Config, opts ...Option) *Session {
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = DefaultConfig().SnapshotTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultConfig().ActionTimeout
	}
	s := &Session{
		id:    id,
		conn:  conn,
		cfg:   cfg,
		log:   logging.Discard(),
		state: StateConnecting,
		refs:  page.NewRefTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handshake sends session_init to the executor and moves the session to
// Ready. It must be called exactly once, right after the transport is
// accepted.
func (s *Session) Handshake(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateConnecting {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("handshake from state %s: %w", state, ErrSessionNotReady)
	}
	s.mu.Unlock()

	if err := s.send(ctx, protocol.SessionInit{SessionID: s.id}); err != nil {
		return fmt.Errorf("send session_init: %w", err)
	}

	s.mu.Lock()
	if s.state == StateConnecting {
		s.state = StateReady
	}
	s.mu.Unlock()
	s.log.Info(logging.CategorySession, "session_ready", s.id, "handshake complete", nil)
	return nil
}

// HandleMessage routes one decoded inbound envelope. Control traffic (Ping,
// Pong, SessionUpdate) is legal in any non-terminal state; a Snapshot or
// ActionResult is only legal while the matching request is outstanding.
// Anything else is a protocol violation that moves the session to Errored.
func (s *Session) HandleMessage(ctx context.Context, msg protocol.Message) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	switch m := msg.(type) {
	case protocol.Ping:
		return s.send(ctx, protocol.Pong{})
	case protocol.Pong:
		return nil
	case protocol.SessionUpdate:
		s.mu.Lock()
		s.url = m.URL
		s.title = m.Title
		s.mu.Unlock()
		s.log.Debug(logging.CategorySession, "session_update", s.id, m.URL, map[string]any{"title": m.Title})
		s.publish(bus.SubjectSessionUpdated, map[string]any{"url": m.URL, "title": m.Title})
		return nil
	case protocol.ActionResult:
		s.mu.Lock()
		wait := s.actionWait
		inFlight := s.state == StateAwaitingAction && wait != nil
		s.mu.Unlock()
		if !inFlight {
			return s.violation(fmt.Sprintf("ActionResult received in state %s with no action in flight", s.State()))
		}
		select {
		case wait <- actionOutcome{result: m}:
		default:
			// The slot already resolved this attempt; the dispatcher decides
			// what a duplicate means.
		}
		return nil
	case protocol.Snapshot:
		s.mu.Lock()
		wait := s.snapshotWait
		awaiting := s.state == StateAwaitingSnapshot && wait != nil
		s.mu.Unlock()
		if !awaiting {
			return s.violation(fmt.Sprintf("Snapshot received in state %s with no snapshot request outstanding", s.State()))
		}
		select {
		case wait <- snapshotOutcome{snap: m}:
		default:
		}
		return nil
	default:
		return s.violation(fmt.Sprintf("unexpected inbound message %q", msg.Tag()))
	}
}

// HandleDecodeError records an inbound framing failure. Malformed envelopes
// make ordinal correlation untrustworthy, so the session moves to Errored.
func (s *Session) HandleDecodeError(err error) error {
	return s.violation(err.Error())
}

// violation moves the session to Errored and wakes any waiter with a
// protocol failure.
func (s *Session) violation(reason string) error {
	failure := &Failure{Kind: KindProtocolError, Message: reason}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateErrored
	s.wakeWaitersLocked(failure)
	s.mu.Unlock()

	s.log.Error(logging.CategoryProtocol, "protocol_violation", s.id, reason, nil)
	s.publish(bus.SubjectSessionErrored, map[string]any{"reason": reason})
	return failure
}

// wakeWaitersLocked delivers err to any outstanding waiter. Callers hold mu.
func (s *Session) wakeWaitersLocked(err error) {
	if s.actionWait != nil {
		select {
		case s.actionWait <- actionOutcome{err: err}:
		default:
		}
	}
	if s.snapshotWait != nil {
		select {
		case s.snapshotWait <- snapshotOutcome{err: err}:
		default:
		}
	}
}

// Reset recovers a session from Errored: new reference-table generation,
// cleared in-flight slot, back to Ready. Resetting a healthy idle session is
// legal and simply invalidates all references.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateConnecting:
		return ErrSessionNotReady
	}
	s.wakeWaitersLocked(ErrSessionErrored)
	s.actionWait = nil
	s.snapshotWait = nil
	s.refs.BeginGeneration()
	s.state = StateReady
	s.log.Info(logging.CategorySession, "session_reset", s.id, "session reset", nil)
	return nil
}

// Close tears the session down: terminal state, waiters woken, transport
// closed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.wakeWaitersLocked(ErrSessionClosed)
	s.actionWait = nil
	s.snapshotWait = nil
	s.mu.Unlock()

	s.log.Info(logging.CategorySession, "session_closed", s.id, "session closed", nil)
	s.publish(bus.SubjectSessionClosed, nil)
	return s.conn.Close()
}

// Info is a point-in-time view of the session for listings.
type Info struct {
	ID         string          `json:"id"`
	State      string          `json:"state"`
	URL        string          `json:"url,omitempty"`
	Title      string          `json:"title,omitempty"`
	Generation page.Generation `json:"generation"`
	Refs       int             `json:"refs"`
}

// Info returns the session's current listing view.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:         s.id,
		State:      s.state.String(),
		URL:        s.url,
		Title:      s.title,
		Generation: s.refs.Generation(),
		Refs:       s.refs.Len(),
	}
}

// Generation returns the current reference-table generation.
func (s *Session) Generation() page.Generation {
	return s.refs.Generation()
}

func (s *Session) send(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, data)
}

func (s *Session) publish(subjectFmt string, payload any) {
	if s.events == nil {
		return
	}
	var data []byte
	if payload != nil {
		data, _ = json.Marshal(payload)
	}
	_ = s.events.Publish(context.Background(), fmt.Sprintf(subjectFmt, s.id), data)
}
