// Package source defines where calendar events come from and provides the
// concrete providers: Google Calendar, a Redis read-through cache, a
// calendar-id router and an in-memory static source.
package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"orgcal/internal/model"
)

// ErrUnknownCalendar is returned when no provider serves a calendar id.
var ErrUnknownCalendar = errors.New("unknown calendar id")

// EventSource lists the events of one calendar within [timeMin, timeMax).
// Implementations expand recurrences themselves; callers never do.
type EventSource interface {
	ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.CalendarEvent, error)
}

// Func adapts a plain function to EventSource.
type Func func(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.CalendarEvent, error)

func (f Func) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.CalendarEvent, error) {
	return f(ctx, calendarID, timeMin, timeMax)
}

// Static serves fixed per-calendar event lists from memory. Events are
// filtered to the requested window by their start.
type Static struct {
	mu     sync.RWMutex
	events map[string][]model.CalendarEvent
}

// NewStatic returns an empty Static source.
func NewStatic() *Static {
	return &Static{events: make(map[string][]model.CalendarEvent)}
}

// Set replaces the events for calendarID.
func (s *Static) Set(calendarID string, events ...model.CalendarEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[calendarID] = append([]model.CalendarEvent(nil), events...)
}

func (s *Static) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	all, ok := s.events[calendarID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownCalendar
	}

	out := make([]model.CalendarEvent, 0, len(all))
	for _, ev := range all {
		if inWindow(ev, timeMin, timeMax) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// inWindow reports whether ev starts inside [timeMin, timeMax). All-day
// starts are compared as midnight in timeMin's location. Malformed events
// are passed through so the consumer can count them.
func inWindow(ev model.CalendarEvent, timeMin, timeMax time.Time) bool {
	var start time.Time
	switch {
	case !ev.Start.Valid():
		return true
	case ev.Start.Date != nil:
		start = ev.Start.Date.In(timeMin.Location())
	default:
		start = *ev.Start.DateTime
	}
	return !start.Before(timeMin) && start.Before(timeMax)
}
