package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"orgcal/internal/calendar"
	"orgcal/internal/config"
	"orgcal/internal/ics"
	appLog "orgcal/internal/log"
	"orgcal/internal/source"
)

// sources is the event source stack shared by every engine:
// ICS feeds and Google behind a router, optionally behind Redis.
type sources struct {
	events source.EventSource
	cache  *source.Cache
	rdb    *redis.Client
}

func buildSources(ctx context.Context, conf *config.Config) (*sources, error) {
	var fallback source.EventSource
	if conf.Google.Enabled() {
		g, err := source.NewGoogle(ctx, source.GoogleConfig{
			APIKey:          conf.Google.APIKey,
			CredentialsFile: conf.Google.CredentialsFile,
			Endpoint:        conf.Google.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		fallback = g
	}

	router := source.NewRouter(fallback)
	if len(conf.ICS) > 0 {
		feeds := make([]ics.Feed, 0, len(conf.ICS))
		for _, c := range conf.ICS {
			feeds = append(feeds, ics.Feed{ID: c.ID, URL: c.URL, Name: c.Name})
		}
		client := &http.Client{Timeout: conf.Calendar.FetchTimeout}
		icsSource := ics.NewSource(ics.NewFetcher(conf.ICSCacheDir, client), feeds)
		for _, id := range icsSource.IDs() {
			router.Handle(id, icsSource)
		}
	}

	out := &sources{events: router}
	if conf.Cache.RedisAddr == "" {
		return out, nil
	}

	rdb, err := source.NewRedisClient(source.RedisConfig{
		Address:  conf.Cache.RedisAddr,
		Password: conf.Cache.RedisPassword,
		DB:       conf.Cache.RedisDB,
	})
	if err != nil {
		// The cache is optional; run uncached rather than fail.
		appLog.Error("redis unavailable; event cache disabled", err, "addr", conf.Cache.RedisAddr)
		return out, nil
	}
	out.rdb = rdb
	out.cache = source.NewCache(router, rdb, conf.Cache.TTL)
	out.events = out.cache
	return out, nil
}

// Invalidate drops cached events for calendarID. It is a no-op without
// Redis.
func (s *sources) Invalidate(ctx context.Context, calendarID string) error {
	if s.cache == nil {
		return nil
	}
	n, err := s.cache.Invalidate(ctx, calendarID)
	if err != nil {
		return err
	}
	appLog.Debug("event cache invalidated", "calendar", calendarID, "keys", n)
	return nil
}

func (s *sources) Close() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
}

func buildEngines(conf *config.Config, srcs *sources, loc *time.Location) map[calendar.Mode]*calendar.Engine {
	policy := calendar.KeepSelection
	if conf.Calendar.ClearSelectionOnNavigate {
		policy = calendar.ClearSelection
	}
	classifier := calendar.NewClassifier(conf.Calendar.HolidayMarkers...)

	engines := make(map[calendar.Mode]*calendar.Engine, 2)
	for _, mode := range []calendar.Mode{calendar.ModeFull, calendar.ModeMini} {
		engines[mode] = calendar.New(calendar.Options{
			Primary:           srcs.events,
			Holiday:           srcs.events,
			Mode:              mode,
			CalendarID:        conf.Calendar.PrimaryID,
			HolidayCalendarID: conf.Calendar.HolidayID,
			Location:          loc,
			Classifier:        classifier,
			NavigationPolicy:  policy,
			FetchTimeout:      conf.Calendar.FetchTimeout,
		})
	}
	return engines
}

// runOnce loads the engine's current month and writes a plain-text agenda.
func runOnce(ctx context.Context, e *calendar.Engine, timeout time.Duration, w io.Writer) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.Refresh(ctx).Wait(waitCtx); err != nil {
		return fmt.Errorf("waiting for fetch: %w", err)
	}

	snap := e.Snapshot()
	if snap.PrimaryErr != nil {
		appLog.Error("primary calendar fetch failed", snap.PrimaryErr, "calendar", e.CalendarID())
	}
	if snap.HolidayErr != nil {
		appLog.Error("holiday calendar fetch failed", snap.HolidayErr)
	}

	grid := e.Grid()
	fmt.Fprintf(w, "%s %d (%s)\n", grid.Month.Month, grid.Month.Year, e.CalendarID())
	for _, cell := range grid.Cells {
		if !cell.InCurrentMonth || len(cell.Events) == 0 {
			continue
		}
		marker := " "
		if cell.IsRedDay() {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s\n", marker, cell.Date)
		for _, ev := range cell.Events {
			fmt.Fprintf(w, "    - %s\n", ev.Summary)
		}
	}
	return nil
}
