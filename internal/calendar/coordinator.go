package calendar

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"golang.org/x/sync/errgroup"

	appLog "orgcal/internal/log"
	"orgcal/internal/model"
	"orgcal/internal/source"
)

const defaultFetchTimeout = 10 * time.Second

// ErrNoSource is recorded for a slot whose source was never configured.
var ErrNoSource = errors.New("no event source configured")

// FetchRequest describes one month's worth of events to load.
type FetchRequest struct {
	Month             civil.Date
	CalendarID        string
	HolidayCalendarID string
	Mode              Mode
}

// wantsHoliday reports whether the holiday slot takes part in this request.
func (r FetchRequest) wantsHoliday() bool {
	return r.Mode != ModeMini && r.HolidayCalendarID != ""
}

func (r FetchRequest) sameView(o FetchRequest) bool {
	return r.Month == o.Month && r.CalendarID == o.CalendarID && r.Mode == o.Mode
}

// Ticket identifies an issued request. Done is closed once both slots have
// resolved, whether or not the result was committed.
type Ticket struct {
	Generation uint64
	Done       <-chan struct{}
}

// Wait blocks until the request resolves or ctx ends.
func (t Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.Done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot is the committed event state of the latest generation.
type Snapshot struct {
	Generation uint64
	Revision   uint64
	Request    FetchRequest
	Events     []model.ClassifiedEvent
	Loading    bool
	PrimaryErr error
	HolidayErr error
	Malformed  int
	UpdatedAt  time.Time
}

type slot int

const (
	slotPrimary slot = iota
	slotHoliday
)

func (s slot) String() string {
	if s == slotHoliday {
		return "holiday"
	}
	return "primary"
}

type slotState struct {
	events    []model.ClassifiedEvent
	err       error
	pending   bool
	malformed int
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Primary    source.EventSource
	Holiday    source.EventSource
	Classifier *Classifier
	// Location is the zone the month window is computed in.
	Location *time.Location
	Timeout  time.Duration
	Now      func() time.Time
}

// Coordinator runs the primary and holiday fetches for a month concurrently
// and commits their results only while their generation is still current.
type Coordinator struct {
	primary    source.EventSource
	holiday    source.EventSource
	classifier *Classifier
	loc        *time.Location
	timeout    time.Duration
	now        func() time.Time

	mu       sync.Mutex
	gen      uint64
	rev      uint64
	req      FetchRequest
	cancel   context.CancelFunc
	slots    [2]slotState
	updated  time.Time
	subs     map[int]func(Snapshot)
	nextSub  int

	// notifyMu orders subscriber delivery; it is never taken while mu is
	// held. delivered is the last revision handed to subscribers.
	notifyMu  sync.Mutex
	delivered uint64
}

// NewCoordinator applies defaults for missing config fields.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		primary:    cfg.Primary,
		holiday:    cfg.Holiday,
		classifier: cfg.Classifier,
		loc:        cfg.Location,
		timeout:    cfg.Timeout,
		now:        cfg.Now,
		subs:       make(map[int]func(Snapshot)),
	}
	if c.classifier == nil {
		c.classifier = NewClassifier()
	}
	if c.loc == nil {
		c.loc = time.Local
	}
	if c.timeout <= 0 {
		c.timeout = defaultFetchTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Window returns the fetch range for month: midnight on the first through
// midnight after the last day, in the coordinator's location.
func (c *Coordinator) Window(month civil.Date) (time.Time, time.Time) {
	first, last := MonthBounds(month)
	return first.In(c.loc), last.AddDays(1).In(c.loc)
}

// Request starts a new generation for req and returns immediately. Any
// earlier generation still in flight is cancelled and its results will be
// discarded. A refresh of the same month and calendar keeps the previous
// events visible until the new ones arrive; any other request starts empty.
func (c *Coordinator) Request(ctx context.Context, req FetchRequest) Ticket {
	req.Month = FirstOfMonth(req.Month)
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	keep := c.gen > 1 && c.req.sameView(req)
	c.req = req
	c.cancel = cancel

	prev := c.slots
	c.slots = [2]slotState{}
	if keep {
		c.slots[slotPrimary].events = prev[slotPrimary].events
		if req.wantsHoliday() {
			c.slots[slotHoliday].events = prev[slotHoliday].events
		}
	}
	c.slots[slotPrimary].pending = true
	c.slots[slotHoliday].pending = req.wantsHoliday()
	c.mu.Unlock()

	appLog.Debug("calendar fetch issued",
		"generation", gen,
		"month", req.Month.String(),
		"calendar_id", req.CalendarID,
		"holiday", req.wantsHoliday(),
	)

	done := make(chan struct{})
	go c.run(fctx, cancel, gen, req, done)
	return Ticket{Generation: gen, Done: done}
}

func (c *Coordinator) run(ctx context.Context, cancel context.CancelFunc, gen uint64, req FetchRequest, done chan<- struct{}) {
	defer close(done)
	defer cancel()

	timeMin, timeMax := c.Window(req.Month)

	var g errgroup.Group
	g.Go(func() error {
		events, err := c.fetch(ctx, c.primary, req.CalendarID, timeMin, timeMax)
		c.commit(gen, slotPrimary, events, err)
		return nil
	})
	if req.wantsHoliday() {
		g.Go(func() error {
			events, err := c.fetch(ctx, c.holiday, req.HolidayCalendarID, timeMin, timeMax)
			c.commit(gen, slotHoliday, events, err)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Coordinator) fetch(ctx context.Context, src source.EventSource, calendarID string, timeMin, timeMax time.Time) ([]model.CalendarEvent, error) {
	if src == nil {
		return nil, ErrNoSource
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return src.ListEvents(ctx, calendarID, timeMin, timeMax)
}

// commit applies one slot's result if gen is still current. A failed fetch
// commits as an empty list so the other slot is unaffected.
func (c *Coordinator) commit(gen uint64, s slot, events []model.CalendarEvent, err error) {
	valid := make([]model.CalendarEvent, 0, len(events))
	malformed := 0
	for _, ev := range events {
		if verr := ev.Validate(); verr != nil {
			malformed++
			appLog.Debug("calendar fetch: dropping malformed event", "slot", s.String(), "id", ev.ID)
			continue
		}
		valid = append(valid, ev)
	}

	var classified []model.ClassifiedEvent
	if err == nil {
		if s == slotHoliday {
			classified = c.classifier.Classify(valid)
		} else {
			classified = c.classifier.PassThrough(valid)
		}
	}

	c.mu.Lock()
	if gen != c.gen {
		current := c.gen
		c.mu.Unlock()
		appLog.Debug("calendar fetch: discarding stale result",
			"slot", s.String(),
			"generation", gen,
			"current", current,
		)
		return
	}

	if err != nil {
		appLog.Error("calendar fetch failed; showing no events for source", err,
			"slot", s.String(),
			"generation", gen,
			"calendar_id", c.slotCalendarID(s),
		)
		classified = []model.ClassifiedEvent{}
	}
	if malformed > 0 {
		appLog.Warn("calendar fetch: malformed events dropped", "slot", s.String(), "count", malformed)
	}

	c.slots[s] = slotState{events: classified, err: err, malformed: malformed}
	c.rev++
	c.updated = c.now()
	snap := c.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}

	c.mu.Unlock()

	c.notify(snap, subs)
}

// notify delivers snap unless a newer revision already went out. It runs
// without mu held, so subscribers may read state back from the engine.
func (c *Coordinator) notify(snap Snapshot, subs []func(Snapshot)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	if snap.Revision <= c.delivered {
		appLog.Debug("calendar fetch: skipping superseded notification", "revision", snap.Revision, "delivered", c.delivered)
		return
	}
	c.delivered = snap.Revision

	for _, fn := range subs {
		fn(snap)
	}
}

func (c *Coordinator) slotCalendarID(s slot) string {
	if s == slotHoliday {
		return c.req.HolidayCalendarID
	}
	return c.req.CalendarID
}

func (c *Coordinator) snapshotLocked() Snapshot {
	p, h := c.slots[slotPrimary], c.slots[slotHoliday]
	events := make([]model.ClassifiedEvent, 0, len(p.events)+len(h.events))
	events = append(events, p.events...)
	events = append(events, h.events...)
	return Snapshot{
		Generation: c.gen,
		Revision:   c.rev,
		Request:    c.req,
		Events:     events,
		Loading:    p.pending || h.pending,
		PrimaryErr: p.err,
		HolidayErr: h.err,
		Malformed:  p.malformed + h.malformed,
		UpdatedAt:  c.updated,
	}
}

// Snapshot returns the current state of the latest generation.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Generation returns the latest issued generation.
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Subscribe registers fn to be called after every commit. The returned
// function removes the subscription.
func (c *Coordinator) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}
