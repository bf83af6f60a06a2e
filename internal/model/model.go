package model

import (
	"errors"
	"time"

	"cloud.google.com/go/civil"
)

// ErrMalformedEvent is returned by CalendarEvent.Validate when an event's
// start (or end) carries neither or both of Date and DateTime.
var ErrMalformedEvent = errors.New("malformed event")

// EventTime is either an all-day civil date or an instant with the
// source-provided offset. Exactly one of the two is expected to be set.
type EventTime struct {
	Date     *civil.Date `json:"date,omitempty"`
	DateTime *time.Time  `json:"dateTime,omitempty"`
}

// AllDayAt returns an EventTime holding only a civil date.
func AllDayAt(d civil.Date) EventTime {
	return EventTime{Date: &d}
}

// At returns an EventTime holding only an instant.
func At(t time.Time) EventTime {
	return EventTime{DateTime: &t}
}

// IsZero reports whether neither field is set.
func (t EventTime) IsZero() bool {
	return t.Date == nil && t.DateTime == nil
}

// Valid reports whether exactly one of Date / DateTime is set.
func (t EventTime) Valid() bool {
	return (t.Date == nil) != (t.DateTime == nil)
}

// AllDay reports whether this is a date-only value.
func (t EventTime) AllDay() bool {
	return t.Date != nil && t.DateTime == nil
}

// CivilDate returns the calendar date this value falls on. For instants the
// date is taken in the instant's own location; no zone conversion happens.
func (t EventTime) CivilDate() (civil.Date, bool) {
	if !t.Valid() {
		return civil.Date{}, false
	}
	if t.Date != nil {
		return *t.Date, true
	}
	return civil.DateOf(*t.DateTime), true
}

// CalendarEvent is one event as delivered by an event source.
type CalendarEvent struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Start       EventTime `json:"start"`
	End         EventTime `json:"end"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Validate checks the date/dateTime exclusivity rule. A missing End is
// accepted since some feeds omit it for single-day entries.
func (e CalendarEvent) Validate() error {
	if !e.Start.Valid() {
		return ErrMalformedEvent
	}
	if !e.End.IsZero() && !e.End.Valid() {
		return ErrMalformedEvent
	}
	return nil
}

// Origin tells which fetch slot an event came from.
type Origin int

const (
	OriginPrimary Origin = iota
	OriginHoliday
)

func (o Origin) String() string {
	if o == OriginHoliday {
		return "holiday"
	}
	return "primary"
}

func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Origin) UnmarshalText(b []byte) error {
	switch string(b) {
	case "holiday":
		*o = OriginHoliday
	case "primary", "":
		*o = OriginPrimary
	default:
		return errors.New("unknown origin: " + string(b))
	}
	return nil
}

// ClassifiedEvent is a CalendarEvent with holiday semantics attached. It
// holds a copy of the source event; classification never mutates the source.
type ClassifiedEvent struct {
	CalendarEvent
	Origin    Origin `json:"origin"`
	IsHoliday bool   `json:"isHoliday"`
}
