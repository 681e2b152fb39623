package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSessionBusy is returned when a dispatch or snapshot request is
	// attempted while another request is outstanding. One in-flight request
	// per session; results are correlated positionally.
	ErrSessionBusy = errors.New("session busy: request already in flight")

	// ErrSessionNotReady is returned before the transport handshake
	// completes.
	ErrSessionNotReady = errors.New("session not ready")

	// ErrSessionErrored is returned while the session is in the Errored
	// state and must be explicitly reset before further use.
	ErrSessionErrored = errors.New("session errored: reset required")

	// ErrSessionClosed is returned after the session is torn down.
	ErrSessionClosed = errors.New("session closed")

	// ErrNoActionInFlight is returned by Cancel when there is nothing to
	// cancel.
	ErrNoActionInFlight = errors.New("no action in flight")

	// ErrBlockedURL rejects navigation to system pages (chrome://, about:,
	// file://) before anything reaches the wire.
	ErrBlockedURL = errors.New("navigation to system pages is not allowed")
)

// FailureKind classifies a surfaced dispatch or snapshot failure.
type FailureKind string

const (
	KindRefNotFound            FailureKind = "ref_not_found"
	KindProtocolError          FailureKind = "protocol_error"
	KindActionTimeout          FailureKind = "action_timeout"
	KindExecutorFailure        FailureKind = "executor_failure"
	KindElementNotInteractable FailureKind = "element_not_interactable"
)

// Failure is a structured outcome for a failed operation: kind plus message,
// never a silent no-op. Executor-reported error strings are carried verbatim.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf extracts the failure kind from an error, if it carries one.
func KindOf(err error) (FailureKind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}

// notInteractableMarker is the error string convention executors use to
// distinguish stale, obscured, or disabled elements from other failures.
const notInteractableMarker = "not interactable"

func isNotInteractable(errString string) bool {
	s := strings.ToLower(errString)
	return strings.Contains(s, notInteractableMarker) ||
		strings.HasPrefix(s, "element_not_interactable")
}

// isTransientExecutorError reports whether an executor-reported failure is
// worth retrying for idempotent commands.
func isTransientExecutorError(errString string) bool {
	s := strings.ToLower(errString)
	for _, marker := range []string{"transient", "timeout", "busy", "loading", "temporar"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// blockedURL rejects schemes that reach outside the page sandbox.
func blockedURL(url string) bool {
	u := strings.ToLower(strings.TrimSpace(url))
	return strings.HasPrefix(u, "chrome://") ||
		strings.HasPrefix(u, "about:") ||
		strings.HasPrefix(u, "file://")
}
