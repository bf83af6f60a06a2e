package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleICS = strings.ReplaceAll(`BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//orgcal//test//KO
BEGIN:VEVENT
UID:concert-1
DTSTART;VALUE=DATE:20240214
DTEND;VALUE=DATE:20240215
SUMMARY:정기공연
LOCATION:대강당
END:VEVENT
BEGIN:VEVENT
UID:practice
DTSTART:20240106T100000Z
DTEND:20240106T120000Z
RRULE:FREQ=WEEKLY;COUNT=10
EXDATE:20240210T100000Z
SUMMARY:연습
END:VEVENT
BEGIN:VEVENT
UID:practice
RECURRENCE-ID:20240217T100000Z
DTSTART:20240217T130000Z
DTEND:20240217T150000Z
SUMMARY:연습 (시간 변경)
END:VEVENT
BEGIN:VEVENT
UID:cancelled
DTSTART;VALUE=DATE:20240220
STATUS:CANCELLED
SUMMARY:취소된 일정
END:VEVENT
BEGIN:VEVENT
DTSTART;VALUE=DATE:20240221
SUMMARY:no uid
END:VEVENT
END:VCALENDAR
`, "\n", "\r\n")

var febFrom, febTo = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	events, err := Parse("org", []byte(sampleICS))
	require.NoError(t, err)
	require.Len(t, events, 4, "the VEVENT without UID is skipped")

	concert := events[0]
	assert.True(t, concert.AllDay)
	assert.Equal(t, civil.Date{Year: 2024, Month: 2, Day: 14}, concert.StartDate)
	assert.Equal(t, civil.Date{Year: 2024, Month: 2, Day: 15}, concert.EndDate)
	assert.Equal(t, "대강당", concert.Location)

	practice := events[1]
	assert.False(t, practice.AllDay)
	assert.Equal(t, "FREQ=WEEKLY;COUNT=10", practice.RawRRule)
	require.Len(t, practice.ExDates, 1)

	assert.True(t, events[2].IsOverride())
	assert.True(t, events[3].Cancelled)

	_, err = Parse("org", nil)
	assert.Error(t, err)
}

func TestExpandFebruary(t *testing.T) {
	parsed, err := Parse("org", []byte(sampleICS))
	require.NoError(t, err)

	res, err := Expand(parsed, ExpandConfig{RangeStart: febFrom, RangeEnd: febTo})
	require.NoError(t, err)

	got := map[string]string{}
	for _, ev := range res.Events {
		require.NoError(t, ev.Validate())
		d, _ := ev.Start.CivilDate()
		got[ev.ID] = d.String()
	}
	assert.Equal(t, map[string]string{
		"concert-1":                  "2024-02-14",
		"practice_20240203T100000Z": "2024-02-03",
		"practice_20240217T100000Z": "2024-02-17",
		"practice_20240224T100000Z": "2024-02-24",
	}, got)

	for _, ev := range res.Events {
		if ev.ID == "practice_20240217T100000Z" {
			assert.Equal(t, "연습 (시간 변경)", ev.Summary)
			assert.Equal(t, 13, ev.Start.DateTime.Hour())
		}
		if ev.ID == "concert-1" {
			assert.True(t, ev.Start.AllDay())
		}
	}
	assert.Empty(t, res.TruncatedUIDs)
}

func TestExpandCap(t *testing.T) {
	parsed, err := Parse("org", []byte(sampleICS))
	require.NoError(t, err)

	res, err := Expand(parsed, ExpandConfig{RangeStart: febFrom, RangeEnd: febTo, MaxOccurrencesPerEvent: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"practice"}, res.TruncatedUIDs)

	_, err = Expand(parsed, ExpandConfig{RangeStart: febTo, RangeEnd: febFrom})
	assert.Error(t, err)
}

func TestExpandAllDayInNegativeOffsetWindow(t *testing.T) {
	parsed, err := Parse("org", []byte(sampleICS))
	require.NoError(t, err)
	ny := time.FixedZone("EST", -5*3600)

	res, err := Expand(parsed, ExpandConfig{
		RangeStart: time.Date(2024, 2, 14, 0, 0, 0, 0, ny),
		RangeEnd:   time.Date(2024, 2, 15, 0, 0, 0, 0, ny),
	})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "concert-1", res.Events[0].ID)
}

func TestFetcherConditionalAndFallback(t *testing.T) {
	var hits, notModified int32
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			atomic.AddInt32(&notModified, 1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	feed := Feed{ID: "org", URL: srv.URL + "/private/secret.ics"}

	first, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.EqualValues(t, 1, atomic.LoadInt32(&notModified))

	fail.Store(true)
	third, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, third.FromCache)

	_, err = NewFetcher(t.TempDir(), srv.Client()).Fetch(context.Background(), feed)
	assert.Error(t, err, "no cached body to fall back on")
}

func TestSourceListEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	s := NewSource(NewFetcher(t.TempDir(), srv.Client()), []Feed{
		{ID: "choir", URL: srv.URL + "/choir.ics"},
		{ID: "", URL: ""},
	})
	assert.Equal(t, []string{"choir"}, s.IDs())

	events, err := s.ListEvents(context.Background(), "choir", febFrom, febTo)
	require.NoError(t, err)
	assert.Len(t, events, 4)

	_, err = s.ListEvents(context.Background(), "unknown", febFrom, febTo)
	assert.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.example.com/...(redacted)", redactURL("https://calendar.example.com/private/abc.ics?token=x"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
