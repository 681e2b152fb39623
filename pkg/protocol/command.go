package protocol

// Command tags (the inner "type" field of an action_request payload).
const (
	CmdNavigateTo             = "navigate_to"
	CmdClickElement           = "click_element"
	CmdTypeText               = "type_text"
	CmdScrollTo               = "scroll_to"
	CmdGetPageContent         = "get_page_content"
	CmdGetInteractiveElements = "get_interactive_elements"
)

// Command is one discrete interaction the engine can ask the executor to
// perform. The set of implementations is closed; unrecognized command tags
// are rejected during decoding.
type Command interface {
	// CommandType returns the command's wire tag.
	CommandType() string
	// Idempotent reports whether the command is safe to repeat automatically
	// on timeout or transient failure. Commands with non-repeatable side
	// effects must return false.
	Idempotent() bool
	isCommand()
}

// RefCommand is implemented by commands that name an element by reference ID.
type RefCommand interface {
	Command
	// RefID returns the element reference the command targets.
	RefID() int
}

// NavigateTo loads a URL in the executor's rendering surface.
type NavigateTo struct {
	URL string `json:"url"`
}

// ClickElement clicks the element named by a reference ID.
type ClickElement struct {
	Ref int `json:"ref"`
}

// TypeText types text into the element named by a reference ID.
type TypeText struct {
	Ref  int    `json:"ref"`
	Text string `json:"text"`
}

// ScrollTo scrolls the page to viewport coordinates.
type ScrollTo struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// GetPageContent reads the page's text content, optionally truncated.
type GetPageContent struct {
	MaxLength int `json:"max_length,omitempty"`
}

// GetInteractiveElements scans the page for interactive elements.
type GetInteractiveElements struct {
	Limit int `json:"limit,omitempty"`
}

func (NavigateTo) CommandType() string             { return CmdNavigateTo }
func (ClickElement) CommandType() string           { return CmdClickElement }
func (TypeText) CommandType() string               { return CmdTypeText }
func (ScrollTo) CommandType() string               { return CmdScrollTo }
func (GetPageContent) CommandType() string         { return CmdGetPageContent }
func (GetInteractiveElements) CommandType() string { return CmdGetInteractiveElements }

// Navigation, clicks, and typing are not safely repeatable: a duplicate send
// can double-submit a form or re-trigger a page load.
func (NavigateTo) Idempotent() bool             { return false }
func (ClickElement) Idempotent() bool           { return false }
func (TypeText) Idempotent() bool               { return false }
func (ScrollTo) Idempotent() bool               { return true }
func (GetPageContent) Idempotent() bool         { return true }
func (GetInteractiveElements) Idempotent() bool { return true }

func (c ClickElement) RefID() int { return c.Ref }
func (c TypeText) RefID() int     { return c.Ref }

func (NavigateTo) isCommand()             {}
func (ClickElement) isCommand()           {}
func (TypeText) isCommand()               {}
func (ScrollTo) isCommand()               {}
func (GetPageContent) isCommand()         {}
func (GetInteractiveElements) isCommand() {}
