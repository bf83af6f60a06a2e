package ics

import (
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/teambition/rrule-go"

	appLog "orgcal/internal/log"
	"orgcal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig bounds recurrence expansion to [RangeStart, RangeEnd).
type ExpandConfig struct {
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero means 5000.
	MaxOccurrencesPerEvent int
}

// ExpandResult is the flattened event list plus the UIDs that hit the cap.
type ExpandResult struct {
	Events        []model.CalendarEvent
	TruncatedUIDs []string
}

// Expand turns parsed VEVENTs into single events overlapping the range.
// RRULE, EXDATE, RECURRENCE-ID overrides and cancelled instances are
// applied. Timed events keep their own zone; all-day events become dates.
func Expand(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("ics expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	bases := make([]ParsedEvent, 0, len(events))
	overrides := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		bases = append(bases, ev)
	}

	out := make([]model.CalendarEvent, 0, len(bases))
	for _, ev := range bases {
		if ev.RawRRule == "" {
			if occ, ok := expandSingle(ev, overrides[ev.UID], cfg); ok {
				out = append(out, occ)
			}
			continue
		}

		occs, hitCap := expandRecurring(ev, overrides[ev.UID], cfg)
		out = append(out, occs...)
		if hitCap {
			result.TruncatedUIDs = append(result.TruncatedUIDs, ev.UID)
			appLog.Warn("ics expand: occurrence cap reached", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}

	result.Events = out
	return result, nil
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) (model.CalendarEvent, bool) {
	if o, ok := findOverride(overrides, ev.Start); ok {
		ev = o
	}
	if ev.Cancelled {
		return model.CalendarEvent{}, false
	}
	rs, re := frame(ev, cfg.RangeStart), frame(ev, cfg.RangeEnd)
	if !overlaps(ev.Start, ev.End, rs, re) {
		return model.CalendarEvent{}, false
	}
	return toCalendarEvent(ev, ev.UID, ev.Start, ev.End), true
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.CalendarEvent, bool) {
	out := make([]model.CalendarEvent, 0)
	if ev.Cancelled {
		return out, false
	}

	opt, err := rrule.StrToROption(ev.RawRRule)
	if err != nil {
		appLog.Error("ics expand: bad RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	opt.Dtstart = ev.Start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		appLog.Error("ics expand: bad RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		if ev.AllDay {
			ex = time.Date(ex.Year(), ex.Month(), ex.Day(), 0, 0, 0, 0, time.UTC)
		}
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	rs, re := frame(ev, cfg.RangeStart), frame(ev, cfg.RangeEnd)
	// Widen the lower bound by the duration so instances that started
	// before the range but are still running are included.
	starts := set.Between(rs.Add(-dur), re, true)

	hitCap := false
	for _, start := range starts {
		if len(out) >= cfg.MaxOccurrencesPerEvent {
			hitCap = true
			break
		}
		id := instanceID(ev, start)
		end := start.Add(dur)
		inst := ev
		if o, ok := findOverride(overrides, start); ok {
			inst = o
			start, end = o.Start, o.End
		}
		if inst.Cancelled || !overlaps(start, end, rs, re) {
			continue
		}
		out = append(out, toCalendarEvent(inst, id, start, end))
	}
	return out, hitCap
}

// frame moves a range bound into the event's reference frame. All-day
// events are stored as UTC midnights, so the bound's wall clock is reused
// in UTC; timed events compare as instants.
func frame(ev ParsedEvent, t time.Time) time.Time {
	if !ev.AllDay {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// overlaps treats both ranges as half-open; zero-length events count when
// they start inside the range.
func overlaps(start, end, rs, re time.Time) bool {
	if !start.Before(re) {
		return false
	}
	if end.Equal(start) {
		return !start.Before(rs)
	}
	return end.After(rs)
}

func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, o := range overrides {
		if o.Recurrence != nil && o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}

func instanceID(ev ParsedEvent, start time.Time) string {
	if ev.AllDay {
		return ev.UID + "_" + start.Format("20060102")
	}
	return ev.UID + "_" + start.UTC().Format("20060102T150405Z")
}

func toCalendarEvent(ev ParsedEvent, id string, start, end time.Time) model.CalendarEvent {
	out := model.CalendarEvent{
		ID:          id,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
	}
	if ev.AllDay {
		out.Start = model.AllDayAt(civil.DateOf(start))
		out.End = model.AllDayAt(civil.DateOf(end))
		return out
	}
	out.Start = model.At(start)
	out.End = model.At(end)
	return out
}
