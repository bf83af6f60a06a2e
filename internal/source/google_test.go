package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
)

func newGoogleTestServer(t *testing.T, handler http.HandlerFunc) *Google {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewGoogle(context.Background(), GoogleConfig{
		Endpoint:   srv.URL + "/",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return g
}

func TestGoogleListEvents(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	g := newGoogleTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()

		page := map[string]any{
			"items": []map[string]any{
				{"id": "e1", "summary": "공연", "start": map[string]string{"date": "2024-02-14"}, "end": map[string]string{"date": "2024-02-15"}},
				{"id": "e2", "summary": "연습", "location": "강당", "start": map[string]string{"dateTime": "2024-02-16T19:00:00+09:00"}, "end": map[string]string{"dateTime": "2024-02-16T21:00:00+09:00"}},
				{"id": "gone", "status": "cancelled", "start": map[string]string{"date": "2024-02-17"}},
			},
		}
		if r.URL.Query().Get("pageToken") == "" {
			page["nextPageToken"] = "p2"
		} else {
			page["items"] = []map[string]any{
				{"id": "e3", "summary": "정기회의", "description": "월례", "start": map[string]string{"date": "2024-02-20"}},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(page)
	})

	kst := time.FixedZone("KST", 9*3600)
	events, err := g.ListEvents(context.Background(), "org@group.calendar.google.com",
		time.Date(2024, 2, 1, 0, 0, 0, 0, kst), time.Date(2024, 3, 1, 0, 0, 0, 0, kst))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(gotPath, "/calendars/"))
	assert.True(t, strings.HasSuffix(gotPath, "/events"))
	assert.Equal(t, "true", gotQuery["singleEvents"][0])
	assert.Equal(t, "startTime", gotQuery["orderBy"][0])
	assert.Equal(t, "2024-02-01T00:00:00+09:00", gotQuery["timeMin"][0])

	require.Len(t, events, 3)
	assert.Equal(t, "e1", events[0].ID)
	require.NotNil(t, events[0].Start.Date)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.February, Day: 14}, *events[0].Start.Date)
	assert.Nil(t, events[0].Start.DateTime)

	require.NotNil(t, events[1].Start.DateTime)
	d, ok := events[1].Start.CivilDate()
	require.True(t, ok)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.February, Day: 16}, d)
	assert.Equal(t, "강당", events[1].Location)

	assert.Equal(t, "e3", events[2].ID)
	assert.Equal(t, "월례", events[2].Description)
	assert.True(t, events[2].End.IsZero())
}

func TestGoogleListEventsError(t *testing.T) {
	g := newGoogleTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":404,"message":"Not Found"}}`, http.StatusNotFound)
	})

	_, err := g.ListEvents(context.Background(), "nope", time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestNewGoogleRequiresCredentials(t *testing.T) {
	_, err := NewGoogle(context.Background(), GoogleConfig{})
	assert.Error(t, err)
}

func TestFromGoogleTimeUnparseable(t *testing.T) {
	assert.True(t, fromGoogleTime(nil).IsZero())
	assert.True(t, fromGoogleTime(&calendar.EventDateTime{Date: "14/02/2024"}).IsZero())

	both := fromGoogleTime(&calendar.EventDateTime{Date: "2024-02-14", DateTime: "2024-02-14T10:00:00Z"})
	assert.False(t, both.Valid())
}
