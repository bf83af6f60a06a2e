package calendar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgcal/internal/model"
	"orgcal/internal/source"
)

func TestCoordinatorLateOlderGenerationIsDiscarded(t *testing.T) {
	src := newControlledSource()
	c := NewCoordinator(CoordinatorConfig{Primary: src, Location: time.UTC})
	ctx := context.Background()

	g1 := c.Request(ctx, FetchRequest{Month: date(2024, time.January, 1), CalendarID: "org", Mode: ModeMini})
	call1 := src.next(t)
	g2 := c.Request(ctx, FetchRequest{Month: date(2024, time.February, 1), CalendarID: "org", Mode: ModeMini})
	call2 := src.next(t)
	require.Greater(t, g2.Generation, g1.Generation)

	call2.respond([]model.CalendarEvent{allDay("feb", date(2024, time.February, 14))}, nil)
	waitTicket(t, g2)
	call1.respond([]model.CalendarEvent{allDay("jan", date(2024, time.January, 10))}, nil)
	waitTicket(t, g1)

	snap := c.Snapshot()
	assert.Equal(t, g2.Generation, snap.Generation)
	assert.Equal(t, date(2024, time.February, 1), snap.Request.Month)
	assert.Equal(t, []string{"feb"}, ids(snap.Events))
	assert.False(t, snap.Loading)
}

func TestCoordinatorOlderGenerationResolvingFirstNeverCommits(t *testing.T) {
	src := newControlledSource()
	c := NewCoordinator(CoordinatorConfig{Primary: src, Location: time.UTC})
	ctx := context.Background()

	var mu sync.Mutex
	var seen []uint64
	c.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.Generation)
		mu.Unlock()
	})

	g1 := c.Request(ctx, FetchRequest{Month: date(2024, time.January, 1), CalendarID: "org", Mode: ModeMini})
	call1 := src.next(t)
	g2 := c.Request(ctx, FetchRequest{Month: date(2024, time.February, 1), CalendarID: "org", Mode: ModeMini})
	call2 := src.next(t)

	call1.respond([]model.CalendarEvent{allDay("jan", date(2024, time.January, 10))}, nil)
	waitTicket(t, g1)
	snap := c.Snapshot()
	assert.Empty(t, snap.Events)
	assert.True(t, snap.Loading)

	call2.respond([]model.CalendarEvent{allDay("feb", date(2024, time.February, 14))}, nil)
	waitTicket(t, g2)

	assert.Equal(t, []string{"feb"}, ids(c.Snapshot().Events))
	mu.Lock()
	assert.Equal(t, []uint64{g2.Generation}, seen)
	mu.Unlock()
}

func TestCoordinatorSlotsCommitInEitherOrder(t *testing.T) {
	for _, holidayFirst := range []bool{true, false} {
		primary := newControlledSource()
		holiday := newControlledSource()
		c := NewCoordinator(CoordinatorConfig{Primary: primary, Holiday: holiday, Location: time.UTC})

		tk := c.Request(context.Background(), FetchRequest{
			Month:             date(2024, time.February, 1),
			CalendarID:        "org",
			HolidayCalendarID: DefaultHolidayCalendarID,
			Mode:              ModeFull,
		})
		pc := primary.next(t)
		hc := holiday.next(t)
		assert.Equal(t, DefaultHolidayCalendarID, hc.calendarID)

		h := allDay("h1", date(2024, time.February, 10))
		h.Description = "공휴일"
		p := allDay("e1", date(2024, time.February, 10))

		if holidayFirst {
			hc.respond([]model.CalendarEvent{h}, nil)
			require.Eventually(t, func() bool { return len(c.Snapshot().Events) == 1 }, time.Second, time.Millisecond)
			assert.True(t, c.Snapshot().Loading)
			pc.respond([]model.CalendarEvent{p}, nil)
		} else {
			pc.respond([]model.CalendarEvent{p}, nil)
			require.Eventually(t, func() bool { return len(c.Snapshot().Events) == 1 }, time.Second, time.Millisecond)
			assert.True(t, c.Snapshot().Loading)
			hc.respond([]model.CalendarEvent{h}, nil)
		}
		waitTicket(t, tk)

		snap := c.Snapshot()
		assert.Equal(t, []string{"e1", "h1"}, ids(snap.Events), "holidayFirst=%v", holidayFirst)
		assert.False(t, snap.Loading)
	}
}

func TestCoordinatorFailedSlotDoesNotBlockTheOther(t *testing.T) {
	boom := errors.New("403 forbidden")
	static := source.NewStatic()
	static.Set("org", allDay("e1", date(2024, time.February, 14)))
	failing := source.Func(func(context.Context, string, time.Time, time.Time) ([]model.CalendarEvent, error) {
		return nil, boom
	})

	c := NewCoordinator(CoordinatorConfig{Primary: static, Holiday: failing, Location: time.UTC})
	waitTicket(t, c.Request(context.Background(), FetchRequest{
		Month: date(2024, time.February, 1), CalendarID: "org", HolidayCalendarID: "holidays", Mode: ModeFull,
	}))

	snap := c.Snapshot()
	assert.Equal(t, []string{"e1"}, ids(snap.Events))
	assert.ErrorIs(t, snap.HolidayErr, boom)
	assert.NoError(t, snap.PrimaryErr)

	// And the other way round.
	c = NewCoordinator(CoordinatorConfig{Primary: failing, Holiday: static, Location: time.UTC})
	static.Set("holidays", func() model.CalendarEvent {
		h := allDay("h1", date(2024, time.February, 10))
		h.Description = "공휴일"
		return h
	}())
	waitTicket(t, c.Request(context.Background(), FetchRequest{
		Month: date(2024, time.February, 1), CalendarID: "org", HolidayCalendarID: "holidays", Mode: ModeFull,
	}))
	snap = c.Snapshot()
	assert.Equal(t, []string{"h1"}, ids(snap.Events))
	assert.ErrorIs(t, snap.PrimaryErr, boom)
}

func TestCoordinatorMiniModeSkipsHoliday(t *testing.T) {
	static := source.NewStatic()
	static.Set("org", allDay("e1", date(2024, time.February, 14)))
	called := false
	holiday := source.Func(func(context.Context, string, time.Time, time.Time) ([]model.CalendarEvent, error) {
		called = true
		return nil, nil
	})

	c := NewCoordinator(CoordinatorConfig{Primary: static, Holiday: holiday, Location: time.UTC})
	waitTicket(t, c.Request(context.Background(), FetchRequest{
		Month: date(2024, time.February, 1), CalendarID: "org", HolidayCalendarID: "holidays", Mode: ModeMini,
	}))

	assert.False(t, called)
	assert.Equal(t, []string{"e1"}, ids(c.Snapshot().Events))
}

func TestCoordinatorTimeoutCountsAsEmpty(t *testing.T) {
	slow := source.Func(func(ctx context.Context, _ string, _, _ time.Time) ([]model.CalendarEvent, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := NewCoordinator(CoordinatorConfig{Primary: slow, Location: time.UTC, Timeout: 20 * time.Millisecond})

	waitTicket(t, c.Request(context.Background(), FetchRequest{Month: date(2024, time.February, 1), CalendarID: "org"}))

	snap := c.Snapshot()
	assert.Empty(t, snap.Events)
	assert.False(t, snap.Loading)
	assert.ErrorIs(t, snap.PrimaryErr, context.DeadlineExceeded)
}

func TestCoordinatorDropsMalformedEvents(t *testing.T) {
	d := date(2024, time.February, 14)
	now := time.Date(2024, 2, 14, 9, 0, 0, 0, time.UTC)
	src := source.Func(func(context.Context, string, time.Time, time.Time) ([]model.CalendarEvent, error) {
		return []model.CalendarEvent{
			allDay("ok", d),
			{ID: "no-start"},
			{ID: "both", Start: model.EventTime{Date: &d, DateTime: &now}},
		}, nil
	})
	c := NewCoordinator(CoordinatorConfig{Primary: src, Location: time.UTC})

	waitTicket(t, c.Request(context.Background(), FetchRequest{Month: d, CalendarID: "org"}))

	snap := c.Snapshot()
	assert.Equal(t, []string{"ok"}, ids(snap.Events))
	assert.Equal(t, 2, snap.Malformed)
}

func TestCoordinatorRefreshKeepsEventsWhileLoading(t *testing.T) {
	src := newControlledSource()
	c := NewCoordinator(CoordinatorConfig{Primary: src, Location: time.UTC})
	req := FetchRequest{Month: date(2024, time.February, 1), CalendarID: "org", Mode: ModeMini}

	tk := c.Request(context.Background(), req)
	src.next(t).respond([]model.CalendarEvent{allDay("v1", date(2024, time.February, 3))}, nil)
	waitTicket(t, tk)

	tk = c.Request(context.Background(), req)
	call := src.next(t)
	snap := c.Snapshot()
	assert.True(t, snap.Loading)
	assert.Equal(t, []string{"v1"}, ids(snap.Events))

	call.respond([]model.CalendarEvent{allDay("v2", date(2024, time.February, 3))}, nil)
	waitTicket(t, tk)
	assert.Equal(t, []string{"v2"}, ids(c.Snapshot().Events))

	// A different month starts empty.
	tk = c.Request(context.Background(), FetchRequest{Month: date(2024, time.March, 1), CalendarID: "org", Mode: ModeMini})
	call = src.next(t)
	assert.Empty(t, c.Snapshot().Events)
	call.respond(nil, nil)
	waitTicket(t, tk)
}

func TestCoordinatorWindow(t *testing.T) {
	kst := time.FixedZone("KST", 9*3600)
	c := NewCoordinator(CoordinatorConfig{Location: kst})

	from, to := c.Window(date(2024, time.February, 17))

	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, kst), from)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, kst), to)
}

func TestCoordinatorUnsubscribe(t *testing.T) {
	static := source.NewStatic()
	static.Set("org")
	c := NewCoordinator(CoordinatorConfig{Primary: static, Location: time.UTC})

	calls := 0
	cancel := c.Subscribe(func(Snapshot) { calls++ })
	waitTicket(t, c.Request(context.Background(), FetchRequest{Month: date(2024, 2, 1), CalendarID: "org"}))
	cancel()
	waitTicket(t, c.Request(context.Background(), FetchRequest{Month: date(2024, 2, 1), CalendarID: "org"}))

	assert.Equal(t, 1, calls)
}
