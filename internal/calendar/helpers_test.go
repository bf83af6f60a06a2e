package calendar

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"orgcal/internal/model"
)

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func allDay(id string, d civil.Date) model.CalendarEvent {
	return model.CalendarEvent{ID: id, Summary: id, Start: model.AllDayAt(d), End: model.AllDayAt(d.AddDays(1))}
}

func ids(events []model.ClassifiedEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}

// pendingCall is one ListEvents invocation waiting for the test to answer.
type pendingCall struct {
	calendarID string
	timeMin    time.Time
	timeMax    time.Time
	reply      chan reply
}

type reply struct {
	events []model.CalendarEvent
	err    error
}

func (c *pendingCall) respond(events []model.CalendarEvent, err error) {
	c.reply <- reply{events: events, err: err}
}

// controlledSource hands every call to the test and blocks until answered.
// It ignores cancellation, like a transport that cannot abort requests, so
// late answers exercise the generation gate.
type controlledSource struct {
	calls chan *pendingCall
}

func newControlledSource() *controlledSource {
	return &controlledSource{calls: make(chan *pendingCall, 16)}
}

func (s *controlledSource) ListEvents(_ context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.CalendarEvent, error) {
	c := &pendingCall{calendarID: calendarID, timeMin: timeMin, timeMax: timeMax, reply: make(chan reply, 1)}
	s.calls <- c
	r := <-c.reply
	return r.events, r.err
}

func (s *controlledSource) next(t *testing.T) *pendingCall {
	t.Helper()
	select {
	case c := <-s.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ListEvents call")
		return nil
	}
}

func waitTicket(t *testing.T, tk Ticket) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tk.Wait(ctx); err != nil {
		t.Fatalf("ticket %d did not resolve: %v", tk.Generation, err)
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
