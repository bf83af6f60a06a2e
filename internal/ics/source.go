package ics

import (
	"context"
	"fmt"
	"time"

	appLog "orgcal/internal/log"
	"orgcal/internal/model"
)

// Source serves subscribed ICS feeds as calendars, one feed per id.
type Source struct {
	fetcher *Fetcher
	feeds   map[string]Feed
}

// NewSource indexes feeds by ID; feeds without an ID use their URL.
func NewSource(fetcher *Fetcher, feeds []Feed) *Source {
	s := &Source{fetcher: fetcher, feeds: make(map[string]Feed, len(feeds))}
	for _, f := range feeds {
		if f.URL == "" {
			continue
		}
		if f.ID == "" {
			f.ID = f.URL
		}
		s.feeds[f.ID] = f
	}
	return s
}

// IDs lists the calendar ids this source answers for.
func (s *Source) IDs() []string {
	out := make([]string, 0, len(s.feeds))
	for id := range s.feeds {
		out = append(out, id)
	}
	return out
}

// ListEvents fetches, parses and expands the feed for calendarID.
func (s *Source) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.CalendarEvent, error) {
	feed, ok := s.feeds[calendarID]
	if !ok {
		return nil, fmt.Errorf("ics: no feed for calendar %q", calendarID)
	}

	res, err := s.fetcher.Fetch(ctx, feed)
	if err != nil {
		return nil, fmt.Errorf("ics fetch %s: %w", feed.ID, err)
	}

	parsed, err := Parse(feed.ID, res.Body)
	if err != nil {
		return nil, fmt.Errorf("ics parse %s: %w", feed.ID, err)
	}

	expanded, err := Expand(parsed, ExpandConfig{RangeStart: timeMin, RangeEnd: timeMax})
	if err != nil {
		return nil, err
	}

	appLog.Info("ics feed loaded",
		"id", feed.ID,
		"url", redactURL(feed.URL),
		"from_cache", res.FromCache,
		"events", len(expanded.Events),
	)
	return expanded.Events, nil
}
