package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"orgcal/internal/model"
)

// Router picks a source by calendar id, falling back to a default provider
// for ids that have no explicit route.
type Router struct {
	mu       sync.RWMutex
	routes   map[string]EventSource
	fallback EventSource
}

// NewRouter returns a Router; fallback may be nil.
func NewRouter(fallback EventSource) *Router {
	return &Router{routes: make(map[string]EventSource), fallback: fallback}
}

// Handle routes calendarID to src.
func (r *Router) Handle(calendarID string, src EventSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[calendarID] = src
}

func (r *Router) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.CalendarEvent, error) {
	r.mu.RLock()
	src, ok := r.routes[calendarID]
	if !ok {
		src = r.fallback
	}
	r.mu.RUnlock()

	if src == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCalendar, calendarID)
	}
	return src.ListEvents(ctx, calendarID, timeMin, timeMax)
}
