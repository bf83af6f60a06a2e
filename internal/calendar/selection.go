package calendar

import (
	"sync"

	"cloud.google.com/go/civil"
)

// Selection is the currently selected day, if any.
type Selection struct {
	date civil.Date
	ok   bool
}

// NoSelection is the empty selection.
var NoSelection = Selection{}

// Selected returns a selection holding d.
func Selected(d civil.Date) Selection {
	return Selection{date: d, ok: true}
}

// Date returns the selected day and whether one is selected.
func (s Selection) Date() (civil.Date, bool) {
	return s.date, s.ok
}

// IsNone reports whether nothing is selected.
func (s Selection) IsNone() bool {
	return !s.ok
}

// Disclosure is how a selected day's details are shown.
type Disclosure int

const (
	DisclosureNone Disclosure = iota
	// DisclosureInline is the non-modal panel below the grid (full mode).
	DisclosureInline
	// DisclosureOverlay is the modal over the grid (mini mode).
	DisclosureOverlay
)

func (d Disclosure) String() string {
	switch d {
	case DisclosureInline:
		return "inline"
	case DisclosureOverlay:
		return "overlay"
	default:
		return "none"
	}
}

// NavigationPolicy decides what month navigation does to the selection.
type NavigationPolicy int

const (
	// KeepSelection leaves the selection alone on navigation, even when the
	// selected day is no longer on the grid.
	KeepSelection NavigationPolicy = iota
	// ClearSelection resets to no selection on every navigation.
	ClearSelection
)

// SelectionController is the NONE / SELECTED(d) state machine.
type SelectionController struct {
	mu     sync.Mutex
	mode   Mode
	policy NavigationPolicy
	state  Selection
}

// NewSelectionController starts in the NONE state.
func NewSelectionController(mode Mode, policy NavigationPolicy) *SelectionController {
	return &SelectionController{mode: mode, policy: policy}
}

// Click selects d. Clicking the selected day again keeps it selected; there
// is no toggle-off.
func (c *SelectionController) Click(d civil.Date) Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Selected(d)
	return c.state
}

// Close dismisses the overlay. It only applies in mini mode; in full mode,
// or with nothing selected, it does nothing and returns false.
func (c *SelectionController) Close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeMini || c.state.IsNone() {
		return false
	}
	c.state = NoSelection
	return true
}

// OnNavigate applies the navigation policy.
func (c *SelectionController) OnNavigate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.policy == ClearSelection {
		c.state = NoSelection
	}
}

// State returns the current selection.
func (c *SelectionController) State() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Disclosure reports how the selection's details are presented.
func (c *SelectionController) Disclosure() Disclosure {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.IsNone() {
		return DisclosureNone
	}
	if c.mode == ModeMini {
		return DisclosureOverlay
	}
	return DisclosureInline
}
