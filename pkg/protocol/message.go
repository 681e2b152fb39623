// Package protocol defines the wire envelope exchanged between the session
// engine and a browser executor, and the codec that enforces its closed tag
// set. The codec performs structural validation only; reference resolution
// and state-machine checks belong to the session layer.
package protocol

import (
	"encoding/json"

	"github.com/NeuralLift/browser-ai-integrations/pkg/page"
)

// Envelope tags (the closed set accepted on the wire).
const (
	TagPing            = "Ping"
	TagPong            = "Pong"
	TagSessionInit     = "session_init"
	TagSessionUpdate   = "SessionUpdate"
	TagSnapshotRequest = "snapshot_request"
	TagSnapshot        = "Snapshot"
	TagActionRequest   = "action_request"
	TagActionResult    = "ActionResult"
	TagCancelAction    = "cancel_action"
)

// Message is one decoded wire message. The set of implementations is closed;
// the codec rejects unrecognized tags.
type Message interface {
	// Tag returns the envelope type tag for the message.
	Tag() string
	isMessage()
}

// Ping is a liveness probe; the peer answers with Pong.
type Ping struct{}

// Pong answers a Ping.
type Pong struct{}

// SessionInit announces the session ID to the executor right after the
// connection is accepted.
type SessionInit struct {
	SessionID string `json:"session_id"`
}

// SessionUpdate is pushed by the executor when the page it renders changes.
type SessionUpdate struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// SnapshotRequest asks the executor for a raw candidate traversal of its
// current interactive structure.
type SnapshotRequest struct {
	Limit int `json:"limit,omitempty"`
}

// Snapshot carries the executor's raw depth-first candidate traversal.
// Filtering and reference assignment happen engine-side.
type Snapshot struct {
	URL   string           `json:"url,omitempty"`
	Title string           `json:"title,omitempty"`
	Tree  []page.Candidate `json:"tree"`
}

// ActionRequest wraps one command for the executor.
type ActionRequest struct {
	Command Command
}

// ActionResult is the executor's answer to the single in-flight
// ActionRequest. Exactly one is produced per dispatched command.
type ActionResult struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// CancelAction asks the executor to best-effort abort the in-flight action.
// The executor is still expected to answer with exactly one ActionResult.
type CancelAction struct{}

func (Ping) Tag() string            { return TagPing }
func (Pong) Tag() string            { return TagPong }
func (SessionInit) Tag() string     { return TagSessionInit }
func (SessionUpdate) Tag() string   { return TagSessionUpdate }
func (SnapshotRequest) Tag() string { return TagSnapshotRequest }
func (Snapshot) Tag() string        { return TagSnapshot }
func (ActionRequest) Tag() string   { return TagActionRequest }
func (ActionResult) Tag() string    { return TagActionResult }
func (CancelAction) Tag() string    { return TagCancelAction }

func (Ping) isMessage()            {}
func (Pong) isMessage()            {}
func (SessionInit) isMessage()     {}
func (SessionUpdate) isMessage()   {}
func (SnapshotRequest) isMessage() {}
func (Snapshot) isMessage()        {}
func (ActionRequest) isMessage()   {}
func (ActionResult) isMessage()    {}
func (CancelAction) isMessage()    {}
