package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	ical "github.com/arran4/golang-ical"

	appLog "orgcal/internal/log"
)

// ParsedEvent is a VEVENT before recurrence expansion.
type ParsedEvent struct {
	FeedID string

	UID         string
	Summary     string
	Description string
	Location    string

	// AllDay events carry StartDate/EndDate; timed events Start/End in the
	// zone given by TZID (or UTC / local as written).
	AllDay    bool
	StartDate civil.Date
	EndDate   civil.Date
	Start     time.Time
	End       time.Time

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, set on overrides
	Cancelled  bool
}

// IsOverride reports whether this VEVENT replaces one recurring instance.
func (p ParsedEvent) IsOverride() bool {
	return p.Recurrence != nil
}

// Parse decodes an ICS payload. VEVENTs that fail to parse are logged and
// skipped; the rest are returned.
func Parse(feedID string, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(feedID, ve)
		if perr != nil {
			appLog.Warn("ics: skipping vevent", "feed", feedID, "reason", perr.Error())
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "feed", feedID, "event_count", len(events))
	return events, nil
}

func parseVEvent(feedID string, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{FeedID: feedID}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Cancelled = strings.EqualFold(p.Value, "CANCELLED")
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStart)

	if out.AllDay {
		d, err := parseDate(dtStart.Value)
		if err != nil {
			return out, err
		}
		out.StartDate = d
		out.EndDate = d.AddDays(1)
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if e, err := parseDate(dtEnd.Value); err == nil && e.After(d) {
				out.EndDate = e
			}
		}
		out.Start = d.In(time.UTC)
		out.End = out.EndDate.In(time.UTC)
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return out, err
		}
		end, err := ve.GetEndAt()
		if err != nil || end.Before(start) {
			end = start
		}
		out.Start = start
		out.End = end
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, tzid(p)); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseICSTime(p.Value, tzid(p)); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

// isDateValue detects VALUE=DATE or a bare YYYYMMDD value.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func tzid(p *ical.IANAProperty) string {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		return tzs[0]
	}
	return ""
}

func parseDate(v string) (civil.Date, error) {
	t, err := time.Parse("20060102", strings.TrimSpace(v))
	if err != nil {
		return civil.Date{}, err
	}
	return civil.DateOf(t), nil
}

// parseICSTime handles the DATE, floating DATE-TIME and UTC forms used by
// EXDATE and RECURRENCE-ID. Floating values use tz when it names a known
// zone, otherwise UTC.
func parseICSTime(v, tz string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, time.UTC)
}
