package page

import "strings"

// Bounds describes an element's box in viewport coordinates.
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the box has no visible area.
func (b Bounds) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Candidate is one element from the executor's raw depth-first traversal,
// before filtering and reference assignment.
type Candidate struct {
	Role       string `json:"role,omitempty"`
	Name       string `json:"name,omitempty"`
	Tag        string `json:"tag"`
	Bounds     Bounds `json:"bounds"`
	Visible    bool   `json:"visible"`
	Display    string `json:"display,omitempty"`
	Visibility string `json:"visibility,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
	TabIndex   *int   `json:"tab_index,omitempty"`
	AgentUI    bool   `json:"agent_ui,omitempty"`
}

// ElementNode is one interactive element as observed at snapshot time.
// Immutable once produced; superseded wholesale by the next snapshot.
type ElementNode struct {
	ID     int    `json:"id"`
	Role   string `json:"role"`
	Name   string `json:"name"`
	Tag    string `json:"tag"`
	Bounds Bounds `json:"bounds"`
}

// Snapshot is one generation of references: an ordered, filtered view of the
// executor's currently visible interactive elements.
type Snapshot struct {
	Generation Generation    `json:"generation"`
	URL        string        `json:"url,omitempty"`
	Title      string        `json:"title,omitempty"`
	Tree       []ElementNode `json:"tree"`
}

// interactiveTags are the element categories that are interactive regardless
// of styling or ARIA annotations.
var interactiveTags = map[string]struct{}{
	"a":        {},
	"button":   {},
	"input":    {},
	"select":   {},
	"textarea": {},
}

// interactiveRoles are the recognized interactive ARIA roles.
var interactiveRoles = map[string]struct{}{
	"button":           {},
	"link":             {},
	"checkbox":         {},
	"radio":            {},
	"menuitem":         {},
	"menuitemcheckbox": {},
	"menuitemradio":    {},
	"tab":              {},
	"switch":           {},
	"combobox":         {},
	"listbox":          {},
	"option":           {},
	"textbox":          {},
	"searchbox":        {},
	"slider":           {},
	"spinbutton":       {},
}

// visible reports whether the candidate is currently rendered in the
// viewport. Zero-size boxes and display:none / visibility:hidden styles all
// count as invisible.
func (c Candidate) visible() bool {
	if !c.Visible {
		return false
	}
	if c.Bounds.Empty() {
		return false
	}
	if strings.EqualFold(c.Display, "none") {
		return false
	}
	if strings.EqualFold(c.Visibility, "hidden") {
		return false
	}
	return true
}

// interactive reports whether the candidate matches any of the recognized
// interactivity criteria: interactive tag category, pointer cursor,
// interactive ARIA role, or an explicit non-negative tab index.
func (c Candidate) interactive() bool {
	if _, ok := interactiveTags[strings.ToLower(c.Tag)]; ok {
		return true
	}
	if strings.EqualFold(c.Cursor, "pointer") {
		return true
	}
	if _, ok := interactiveRoles[strings.ToLower(c.Role)]; ok {
		return true
	}
	if c.TabIndex != nil && *c.TabIndex >= 0 {
		return true
	}
	return false
}
