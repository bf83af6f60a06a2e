package calendar

import "strings"

// Mode selects the rendering variant.
type Mode int

const (
	// ModeFull is the interactive calendar page: holiday source queried,
	// per-event dots, inline detail panel.
	ModeFull Mode = iota
	// ModeMini is the dashboard widget: primary source only, one enlarged
	// badge per busy day, overlay detail.
	ModeMini
)

func (m Mode) String() string {
	if m == ModeMini {
		return "mini"
	}
	return "full"
}

// ParseMode accepts "mini"/"compact" for ModeMini; anything else is ModeFull.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mini", "compact":
		return ModeMini
	default:
		return ModeFull
	}
}

// VisualState is the derived styling of one cell.
type VisualState struct {
	IsToday           bool `json:"isToday"`
	IsRedDay          bool `json:"isRedDay"`
	HasEvents         bool `json:"hasEvents"`
	IsSelected        bool `json:"isSelected"`
	IsCompactEmphasis bool `json:"isCompactEmphasis"`
	ShowDots          bool `json:"showDots"`
}

// Resolve derives the visual state of cell. Dots and the compact badge are
// mutually exclusive: mini mode uses the badge, full mode the dots.
func Resolve(cell DayCell, mode Mode, sel Selection) VisualState {
	hasEvents := len(cell.Events) > 0
	d, selected := sel.Date()
	return VisualState{
		IsToday:           cell.IsToday,
		IsRedDay:          cell.IsRedDay(),
		HasEvents:         hasEvents,
		IsSelected:        selected && d == cell.Date,
		IsCompactEmphasis: mode == ModeMini && hasEvents,
		ShowDots:          mode == ModeFull && hasEvents,
	}
}
