package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/NeuralLift/browser-ai-integrations/pkg/page"
)

// envelope is the {type, data} wrapper multiplexing message kinds over one
// connection.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode wraps a message in its envelope and serializes it.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, &ProtocolError{Reason: "nil message"}
	}
	env := envelope{Type: msg.Tag()}
	var (
		payload any
		err     error
	)
	switch m := msg.(type) {
	case Ping, Pong, CancelAction:
		// No payload.
	case ActionRequest:
		env.Data, err = marshalCommand(m.Command)
		if err != nil {
			return nil, err
		}
	case SessionInit:
		payload = m
	case SessionUpdate:
		payload = m
	case SnapshotRequest:
		payload = m
	case Snapshot:
		payload = m
	case ActionResult:
		payload = m
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unencodable message type %T", msg)}
	}
	if payload != nil {
		env.Data, err = json.Marshal(payload)
		if err != nil {
			return nil, &ProtocolError{Reason: "marshal payload", Err: err}
		}
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, &ProtocolError{Reason: "marshal envelope", Err: err}
	}
	return out, nil
}

// Decode parses an envelope and validates that its declared type matches the
// payload shape. Unrecognized envelope tags, unrecognized command tags, and
// malformed payloads all fail with a *ProtocolError.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Reason: "malformed envelope", Err: err}
	}
	if env.Type == "" {
		return nil, &ProtocolError{Reason: "envelope missing type tag"}
	}
	switch env.Type {
	case TagPing:
		return Ping{}, nil
	case TagPong:
		return Pong{}, nil
	case TagCancelAction:
		return CancelAction{}, nil
	case TagSessionInit:
		var m SessionInit
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		if m.SessionID == "" {
			return nil, &ProtocolError{Reason: `session_init: missing "session_id"`}
		}
		return m, nil
	case TagSessionUpdate:
		var m SessionUpdate
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TagSnapshotRequest:
		var m SnapshotRequest
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TagSnapshot:
		var raw struct {
			URL   string            `json:"url"`
			Title string            `json:"title"`
			Tree  *[]page.Candidate `json:"tree"`
		}
		if err := decodePayload(env, &raw); err != nil {
			return nil, err
		}
		if raw.Tree == nil {
			return nil, &ProtocolError{Reason: `Snapshot: missing "tree"`}
		}
		return Snapshot{URL: raw.URL, Title: raw.Title, Tree: *raw.Tree}, nil
	case TagActionRequest:
		cmd, err := unmarshalCommand(env.Data)
		if err != nil {
			return nil, err
		}
		return ActionRequest{Command: cmd}, nil
	case TagActionResult:
		var m ActionResult
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		if bytes.Equal(m.Data, []byte("null")) {
			m.Data = nil
		}
		return m, nil
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unrecognized envelope tag %q", env.Type)}
	}
}

func decodePayload(env envelope, dst any) error {
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return &ProtocolError{Reason: fmt.Sprintf("%s: missing payload", env.Type)}
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return &ProtocolError{Reason: fmt.Sprintf("%s: malformed payload", env.Type), Err: err}
	}
	return nil
}

// DecodeCommand parses a tagged command object on its own, outside an
// action_request envelope. The controller REST API accepts this shape.
func DecodeCommand(data []byte) (Command, error) {
	return unmarshalCommand(data)
}

func marshalCommand(cmd Command) (json.RawMessage, error) {
	if cmd == nil {
		return nil, &ProtocolError{Reason: "action_request: nil command"}
	}
	var payload any
	switch c := cmd.(type) {
	case NavigateTo:
		payload = struct {
			Type string `json:"type"`
			NavigateTo
		}{CmdNavigateTo, c}
	case ClickElement:
		payload = struct {
			Type string `json:"type"`
			ClickElement
		}{CmdClickElement, c}
	case TypeText:
		payload = struct {
			Type string `json:"type"`
			TypeText
		}{CmdTypeText, c}
	case ScrollTo:
		payload = struct {
			Type string `json:"type"`
			ScrollTo
		}{CmdScrollTo, c}
	case GetPageContent:
		payload = struct {
			Type string `json:"type"`
			GetPageContent
		}{CmdGetPageContent, c}
	case GetInteractiveElements:
		payload = struct {
			Type string `json:"type"`
			GetInteractiveElements
		}{CmdGetInteractiveElements, c}
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unencodable command type %T", cmd)}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProtocolError{Reason: "marshal command", Err: err}
	}
	return data, nil
}

func unmarshalCommand(data json.RawMessage) (Command, error) {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, &ProtocolError{Reason: "action_request: missing payload"}
	}
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, &ProtocolError{Reason: "action_request: malformed payload", Err: err}
	}
	switch tag.Type {
	case CmdNavigateTo:
		var w struct {
			URL *string `json:"url"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, commandShapeError(tag.Type, err)
		}
		if w.URL == nil || *w.URL == "" {
			return nil, &ProtocolError{Reason: `navigate_to: missing "url"`}
		}
		return NavigateTo{URL: *w.URL}, nil
	case CmdClickElement:
		var w struct {
			Ref *int `json:"ref"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, commandShapeError(tag.Type, err)
		}
		if w.Ref == nil {
			return nil, &ProtocolError{Reason: `click_element: missing "ref"`}
		}
		return ClickElement{Ref: *w.Ref}, nil
	case CmdTypeText:
		var w struct {
			Ref  *int    `json:"ref"`
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, commandShapeError(tag.Type, err)
		}
		if w.Ref == nil {
			return nil, &ProtocolError{Reason: `type_text: missing "ref"`}
		}
		if w.Text == nil {
			return nil, &ProtocolError{Reason: `type_text: missing "text"`}
		}
		return TypeText{Ref: *w.Ref, Text: *w.Text}, nil
	case CmdScrollTo:
		var w struct {
			X *int `json:"x"`
			Y *int `json:"y"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, commandShapeError(tag.Type, err)
		}
		if w.X == nil || w.Y == nil {
			return nil, &ProtocolError{Reason: `scroll_to: missing coordinates`}
		}
		return ScrollTo{X: *w.X, Y: *w.Y}, nil
	case CmdGetPageContent:
		var c GetPageContent
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, commandShapeError(tag.Type, err)
		}
		return c, nil
	case CmdGetInteractiveElements:
		var c GetInteractiveElements
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, commandShapeError(tag.Type, err)
		}
		return c, nil
	case "":
		return nil, &ProtocolError{Reason: "action_request: command missing type tag"}
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unrecognized command tag %q", tag.Type)}
	}
}

func commandShapeError(tag string, err error) error {
	return &ProtocolError{Reason: fmt.Sprintf("%s: malformed payload", tag), Err: err}
}
