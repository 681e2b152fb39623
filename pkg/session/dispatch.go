package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NeuralLift/browser-ai-integrations/pkg/logging"
	"github.com/NeuralLift/browser-ai-integrations/pkg/page"
	"github.com/NeuralLift/browser-ai-integrations/pkg/protocol"
)

// Result is the successful outcome of a dispatched command.
type Result struct {
	Data json.RawMessage `json:"data,omitempty"`
}

// Dispatch sends one command to the executor and waits for its correlated
// result. Correlation is positional: exactly one action may be in flight, so
// the next result on the session is unambiguously its answer.
//
// Commands naming an element are resolved against the current reference-table
// generation first; a stale or unknown reference fails with RefNotFound and
// nothing reaches the wire. Idempotent commands are retried up to the
// configured budget on timeout or transient executor failure; commands with
// non-repeatable side effects surface their first failure to the caller.
func (s *Session) Dispatch(ctx context.Context, cmd protocol.Command) (Result, error) {
	if cmd == nil {
		return Result{}, &protocol.ProtocolError{Reason: "nil command"}
	}
	if nav, ok := cmd.(protocol.NavigateTo); ok && blockedURL(nav.URL) {
		return Result{}, fmt.Errorf("%w: %s", ErrBlockedURL, nav.URL)
	}

	s.mu.Lock()
	if err := stateError(s.state); err != nil {
		s.mu.Unlock()
		return Result{}, err
	}
	if rc, ok := cmd.(protocol.RefCommand); ok {
		if _, err := s.refs.Resolve(rc.RefID()); err != nil {
			gen := s.refs.Generation()
			s.mu.Unlock()
			return Result{}, &Failure{
				Kind:    KindRefNotFound,
				Message: fmt.Sprintf("ref %d not assigned in generation %d", rc.RefID(), gen),
				Err:     err,
			}
		}
	}
	wait := make(chan actionOutcome, 1)
	s.actionWait = wait
	s.state = StateAwaitingAction
	s.mu.Unlock()

	result, err := s.awaitAction(ctx, cmd, wait)

	s.mu.Lock()
	if s.actionWait == wait {
		s.actionWait = nil
	}
	if s.state == StateAwaitingAction {
		s.state = StateReady
	}
	s.mu.Unlock()

	return result, err
}

func (s *Session) awaitAction(ctx context.Context, cmd protocol.Command, wait chan actionOutcome) (Result, error) {
	data, err := protocol.Encode(protocol.ActionRequest{Command: cmd})
	if err != nil {
		return Result{}, err
	}

	attempts := 1
	if cmd.Idempotent() {
		attempts += s.cfg.IdempotentRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := s.conn.Write(ctx, data); err != nil {
			return Result{}, fmt.Errorf("send %s: %w", cmd.CommandType(), err)
		}
		s.log.Debug(logging.CategoryDispatch, "action_sent", s.id, cmd.CommandType(),
			map[string]any{"attempt": attempt})

		timer := time.NewTimer(s.cfg.ActionTimeout)
		select {
		case out := <-wait:
			timer.Stop()
			if out.err != nil {
				return Result{}, out.err
			}
			res := out.result
			if res.Success {
				s.log.Info(logging.CategoryDispatch, "action_ok", s.id, cmd.CommandType(), nil)
				return Result{Data: res.Data}, nil
			}
			if isNotInteractable(res.Error) {
				return Result{}, &Failure{Kind: KindElementNotInteractable, Message: res.Error}
			}
			if cmd.Idempotent() && attempt < attempts && isTransientExecutorError(res.Error) {
				lastErr = &Failure{Kind: KindExecutorFailure, Message: res.Error}
				s.log.Warn(logging.CategoryDispatch, "action_retry", s.id, cmd.CommandType(),
					map[string]any{"attempt": attempt, "error": res.Error})
				continue
			}
			return Result{}, &Failure{Kind: KindExecutorFailure, Message: res.Error}
		case <-timer.C:
			lastErr = &Failure{
				Kind:    KindActionTimeout,
				Message: fmt.Sprintf("no result for %s within %s", cmd.CommandType(), s.cfg.ActionTimeout),
			}
			if cmd.Idempotent() && attempt < attempts {
				s.log.Warn(logging.CategoryDispatch, "action_retry", s.id, cmd.CommandType(),
					map[string]any{"attempt": attempt, "error": "timeout"})
				continue
			}
			return Result{}, lastErr
		case <-ctx.Done():
			timer.Stop()
			return Result{}, ctx.Err()
		}
	}
	return Result{}, lastErr
}

// RequestSnapshot asks the executor for its current candidate traversal,
// filters it, and starts a new reference-table generation. All references
// from the previous generation are invalid once it returns. Requesting a
// snapshot while idle is always legal and simply discards the previous
// generation.
func (s *Session) RequestSnapshot(ctx context.Context, limit int) (page.Snapshot, error) {
	s.mu.Lock()
	if err := stateError(s.state); err != nil {
		s.mu.Unlock()
		return page.Snapshot{}, err
	}
	wait := make(chan snapshotOutcome, 1)
	s.snapshotWait = wait
	s.state = StateAwaitingSnapshot
	s.mu.Unlock()

	snap, err := s.awaitSnapshot(ctx, limit, wait)

	s.mu.Lock()
	if s.snapshotWait == wait {
		s.snapshotWait = nil
	}
	if s.state == StateAwaitingSnapshot {
		s.state = StateReady
	}
	s.mu.Unlock()

	return snap, err
}

func (s *Session) awaitSnapshot(ctx context.Context, limit int, wait chan snapshotOutcome) (page.Snapshot, error) {
	if err := s.send(ctx, protocol.SnapshotRequest{Limit: limit}); err != nil {
		return page.Snapshot{}, fmt.Errorf("send snapshot_request: %w", err)
	}

	timer := time.NewTimer(s.cfg.SnapshotTimeout)
	defer timer.Stop()
	select {
	case out := <-wait:
		if out.err != nil {
			return page.Snapshot{}, out.err
		}
		s.mu.Lock()
		if out.snap.URL != "" {
			s.url = out.snap.URL
		}
		if out.snap.Title != "" {
			s.title = out.snap.Title
		}
		url, title := s.url, s.title
		s.mu.Unlock()

		snap := page.Build(s.refs, out.snap.Tree, page.BuildOptions{
			MaxElements: limit,
			URL:         url,
			Title:       title,
		})
		s.log.Info(logging.CategorySnapshot, "snapshot_built", s.id, url, map[string]any{
			"generation": snap.Generation,
			"candidates": len(out.snap.Tree),
			"elements":   len(snap.Tree),
		})
		return snap, nil
	case <-timer.C:
		return page.Snapshot{}, &Failure{
			Kind:    KindActionTimeout,
			Message: fmt.Sprintf("no snapshot within %s", s.cfg.SnapshotTimeout),
		}
	case <-ctx.Done():
		return page.Snapshot{}, ctx.Err()
	}
}

// Cancel sends a cancel_action control message for the in-flight action. The
// executor best-effort aborts and still returns exactly one result, so the
// in-flight slot is not freed here; the dispatcher resolves it when the
// result (or timeout) is observed.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != StateAwaitingAction {
		s.mu.Unlock()
		return ErrNoActionInFlight
	}
	s.mu.Unlock()

	if err := s.send(ctx, protocol.CancelAction{}); err != nil {
		return fmt.Errorf("send cancel_action: %w", err)
	}
	s.log.Info(logging.CategoryDispatch, "action_cancel", s.id, "cancel requested", nil)
	return nil
}
