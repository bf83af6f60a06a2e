package calendar

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"orgcal/internal/model"
	"orgcal/internal/source"
)

// Options configures an Engine.
type Options struct {
	Primary source.EventSource
	// Holiday may be nil; it is never queried in ModeMini.
	Holiday source.EventSource

	Mode              Mode
	CalendarID        string
	HolidayCalendarID string

	// Location is the display zone for "today" and the fetch window.
	Location *time.Location
	Clock    func() time.Time

	Classifier       *Classifier
	NavigationPolicy NavigationPolicy
	FetchTimeout     time.Duration

	// InitialMonth defaults to the current month.
	InitialMonth civil.Date
}

// Engine is one calendar view: a displayed month, its event state and the
// day selection. It is safe for concurrent use.
type Engine struct {
	mode      Mode
	loc       *time.Location
	clock     func() time.Time
	holidayID string

	coord *Coordinator
	sel   *SelectionController

	mu         sync.Mutex
	month      civil.Date
	calendarID string
}

// New builds an Engine. No fetch is issued until Navigate or Refresh.
func New(opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	e := &Engine{
		mode:       opts.Mode,
		loc:        opts.Location,
		clock:      opts.Clock,
		holidayID:  opts.HolidayCalendarID,
		calendarID: opts.CalendarID,
		sel:        NewSelectionController(opts.Mode, opts.NavigationPolicy),
	}
	e.coord = NewCoordinator(CoordinatorConfig{
		Primary:    opts.Primary,
		Holiday:    opts.Holiday,
		Classifier: opts.Classifier,
		Location:   opts.Location,
		Timeout:    opts.FetchTimeout,
		Now:        opts.Clock,
	})

	e.month = FirstOfMonth(opts.InitialMonth)
	if !opts.InitialMonth.IsValid() {
		e.month = FirstOfMonth(e.Today())
	}
	return e
}

// Mode returns the rendering mode.
func (e *Engine) Mode() Mode {
	return e.mode
}

// Today is the current date in the display location.
func (e *Engine) Today() civil.Date {
	return civil.DateOf(e.clock().In(e.loc))
}

// Month returns the displayed month (first day).
func (e *Engine) Month() civil.Date {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.month
}

// CalendarID returns the primary calendar currently shown.
func (e *Engine) CalendarID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calendarID
}

// HolidayCalendarID returns the holiday calendar fetched in full mode, or
// "" when this engine never fetches holidays.
func (e *Engine) HolidayCalendarID() string {
	if e.mode == ModeMini {
		return ""
	}
	return e.holidayID
}

// Navigate shows month (any day in it) of calendarID and starts a new fetch
// generation. An empty calendarID keeps the current one. The selection is
// handled by the navigation policy.
func (e *Engine) Navigate(ctx context.Context, month civil.Date, calendarID string) Ticket {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.month = FirstOfMonth(month)
	if calendarID != "" {
		e.calendarID = calendarID
	}
	e.sel.OnNavigate()
	return e.requestLocked(ctx)
}

// PrevMonth navigates one month back.
func (e *Engine) PrevMonth(ctx context.Context) Ticket {
	return e.step(ctx, -1)
}

// NextMonth navigates one month forward.
func (e *Engine) NextMonth(ctx context.Context) Ticket {
	return e.step(ctx, 1)
}

func (e *Engine) step(ctx context.Context, n int) Ticket {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.month = AddMonths(e.month, n)
	e.sel.OnNavigate()
	return e.requestLocked(ctx)
}

// SetCalendarID switches the primary calendar. It counts as a navigation.
func (e *Engine) SetCalendarID(ctx context.Context, calendarID string) Ticket {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calendarID = calendarID
	e.sel.OnNavigate()
	return e.requestLocked(ctx)
}

// Refresh refetches the displayed month without touching the selection.
func (e *Engine) Refresh(ctx context.Context) Ticket {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requestLocked(ctx)
}

func (e *Engine) requestLocked(ctx context.Context) Ticket {
	return e.coord.Request(ctx, FetchRequest{
		Month:             e.month,
		CalendarID:        e.calendarID,
		HolidayCalendarID: e.holidayID,
		Mode:              e.mode,
	})
}

// Snapshot returns the coordinator's committed state.
func (e *Engine) Snapshot() Snapshot {
	return e.coord.Snapshot()
}

// Subscribe is called after every committed fetch result.
func (e *Engine) Subscribe(fn func(Snapshot)) func() {
	return e.coord.Subscribe(fn)
}

// Grid computes the displayed month with today's marker and the committed
// events attached.
func (e *Engine) Grid() MonthGrid {
	grid, _ := e.grid()
	return grid
}

func (e *Engine) grid() (MonthGrid, Snapshot) {
	e.mu.Lock()
	month, calendarID := e.month, e.calendarID
	e.mu.Unlock()

	snap := e.coord.Snapshot()
	grid := ComputeGrid(month, e.Today())
	if snap.Request.Month != month || snap.Request.CalendarID != calendarID {
		return grid, snap
	}
	grid, _ = Index(snap.Events, grid)
	return grid, snap
}

// Select marks d as the selected day.
func (e *Engine) Select(d civil.Date) Selection {
	return e.sel.Click(d)
}

// Close dismisses the detail overlay (mini mode only).
func (e *Engine) Close() bool {
	return e.sel.Close()
}

// Selection returns the current selection.
func (e *Engine) Selection() Selection {
	return e.sel.State()
}

// Disclosure reports how the selected day's details are shown.
func (e *Engine) Disclosure() Disclosure {
	return e.sel.Disclosure()
}

// VisualState resolves one date's styling. The second result is false if d
// is not on the displayed grid.
func (e *Engine) VisualState(d civil.Date) (VisualState, bool) {
	cell, ok := e.Grid().Cell(d)
	if !ok {
		return VisualState{}, false
	}
	return Resolve(cell, e.mode, e.sel.State()), true
}

// CellView is a cell with its resolved styling.
type CellView struct {
	DayCell
	Visual VisualState `json:"visual"`
}

// View is everything a host needs to draw the calendar once.
type View struct {
	Mode         string                  `json:"mode"`
	Month        civil.Date              `json:"month"`
	CalendarID   string                  `json:"calendarId"`
	Today        civil.Date              `json:"today"`
	Generation   uint64                  `json:"generation"`
	Loading      bool                    `json:"loading"`
	Cells        []CellView              `json:"cells"`
	Selected     *civil.Date             `json:"selected,omitempty"`
	Disclosure   string                  `json:"disclosure"`
	Detail       []model.ClassifiedEvent `json:"detail"`
	PrimaryError string                  `json:"primaryError,omitempty"`
	HolidayError string                  `json:"holidayError,omitempty"`
}

// View renders the current state. Detail holds the selected day's events
// when that day is on the grid, and is empty otherwise.
func (e *Engine) View() View {
	grid, snap := e.grid()
	sel := e.sel.State()

	v := View{
		Mode:       e.mode.String(),
		Month:      grid.Month,
		CalendarID: e.CalendarID(),
		Today:      e.Today(),
		Generation: snap.Generation,
		Loading:    snap.Loading,
		Cells:      make([]CellView, 0, len(grid.Cells)),
		Disclosure: e.sel.Disclosure().String(),
		Detail:     []model.ClassifiedEvent{},
	}
	if snap.PrimaryErr != nil {
		v.PrimaryError = snap.PrimaryErr.Error()
	}
	if snap.HolidayErr != nil {
		v.HolidayError = snap.HolidayErr.Error()
	}

	for _, cell := range grid.Cells {
		v.Cells = append(v.Cells, CellView{DayCell: cell, Visual: Resolve(cell, e.mode, sel)})
	}

	if d, ok := sel.Date(); ok {
		v.Selected = &d
		if cell, ok := grid.Cell(d); ok && len(cell.Events) > 0 {
			v.Detail = cell.Events
		}
	}
	return v
}
