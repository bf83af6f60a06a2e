package calendar

import (
	"strings"

	"orgcal/internal/model"
)

// DefaultHolidayCalendarID is the public Korean holiday calendar.
const DefaultHolidayCalendarID = "ko.south_korea#holiday@group.v.calendar.google.com"

// DefaultHolidayMarkers are the description markers the holiday calendar uses
// for statutory holidays, in Korean and English.
var DefaultHolidayMarkers = []string{"공휴일", "Public holiday"}

// HolidayPredicate decides whether an event from the holiday source is a
// genuine public holiday.
type HolidayPredicate func(ev model.CalendarEvent) bool

// DescriptionMarkers accepts events whose description contains any of the
// markers, ignoring case. An empty description never matches.
func DescriptionMarkers(markers ...string) HolidayPredicate {
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		lowered = append(lowered, strings.ToLower(m))
	}
	return func(ev model.CalendarEvent) bool {
		if ev.Description == "" {
			return false
		}
		desc := strings.ToLower(ev.Description)
		for _, m := range lowered {
			if strings.Contains(desc, m) {
				return true
			}
		}
		return false
	}
}

// Classifier attaches holiday semantics to fetched events.
type Classifier struct {
	Predicate HolidayPredicate
}

// NewClassifier returns a classifier using DescriptionMarkers. With no
// markers the defaults are used.
func NewClassifier(markers ...string) *Classifier {
	if len(markers) == 0 {
		markers = DefaultHolidayMarkers
	}
	return &Classifier{Predicate: DescriptionMarkers(markers...)}
}

func (c *Classifier) accepts(ev model.CalendarEvent) bool {
	if c == nil || c.Predicate == nil {
		return DescriptionMarkers(DefaultHolidayMarkers...)(ev)
	}
	return c.Predicate(ev)
}

// Classify keeps the holiday-source events the predicate accepts and marks
// them as holidays. Everything else (observances, entries without a
// description) is dropped from the result.
func (c *Classifier) Classify(holidayEvents []model.CalendarEvent) []model.ClassifiedEvent {
	out := make([]model.ClassifiedEvent, 0, len(holidayEvents))
	for _, ev := range holidayEvents {
		if !c.accepts(ev) {
			continue
		}
		out = append(out, model.ClassifiedEvent{
			CalendarEvent: ev,
			Origin:        model.OriginHoliday,
			IsHoliday:     true,
		})
	}
	return out
}

// PassThrough wraps primary-source events; they are never holidays.
func (c *Classifier) PassThrough(primaryEvents []model.CalendarEvent) []model.ClassifiedEvent {
	out := make([]model.ClassifiedEvent, 0, len(primaryEvents))
	for _, ev := range primaryEvents {
		out = append(out, model.ClassifiedEvent{CalendarEvent: ev, Origin: model.OriginPrimary})
	}
	return out
}

// Reclassify recomputes IsHoliday on an already merged list from each
// event's origin. Holiday-origin events the predicate no longer accepts are
// dropped. Running it on its own output changes nothing.
func (c *Classifier) Reclassify(merged []model.ClassifiedEvent) []model.ClassifiedEvent {
	out := make([]model.ClassifiedEvent, 0, len(merged))
	for _, ev := range merged {
		switch ev.Origin {
		case model.OriginHoliday:
			if !c.accepts(ev.CalendarEvent) {
				continue
			}
			ev.IsHoliday = true
		default:
			ev.IsHoliday = false
		}
		out = append(out, ev)
	}
	return out
}
