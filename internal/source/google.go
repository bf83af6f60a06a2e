package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	appLog "orgcal/internal/log"
	"orgcal/internal/model"
)

const googlePageSize = 250

// GoogleConfig holds the credentials and endpoint for the Calendar API.
// Either APIKey (public calendars) or CredentialsFile (service account)
// should be set; HTTPClient, when given, takes over authentication.
type GoogleConfig struct {
	APIKey          string
	CredentialsFile string
	// Endpoint overrides the API base URL, e.g. for a proxy or tests.
	Endpoint   string
	HTTPClient *http.Client
}

// Google reads events through the Google Calendar v3 API.
type Google struct {
	svc *calendar.Service
}

// NewGoogle builds the API client. Authentication state lives in the
// returned value; nothing is stored globally.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	opts := make([]option.ClientOption, 0, 3)
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile), option.WithScopes(calendar.CalendarReadonlyScope))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	default:
		return nil, errors.New("google calendar: api key or credentials file required")
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google calendar: %w", err)
	}
	return &Google{svc: svc}, nil
}

// ListEvents returns single (recurrence-expanded) events ordered by start.
func (g *Google) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.CalendarEvent, error) {
	call := g.svc.Events.List(calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(googlePageSize)

	out := make([]model.CalendarEvent, 0)
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item == nil || item.Status == "cancelled" {
				continue
			}
			out = append(out, fromGoogleEvent(item))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("google calendar %q: %w", calendarID, err)
	}

	appLog.Debug("google calendar fetched", "calendar_id", calendarID, "count", len(out))
	return out, nil
}

func fromGoogleEvent(item *calendar.Event) model.CalendarEvent {
	return model.CalendarEvent{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Start:       fromGoogleTime(item.Start),
		End:         fromGoogleTime(item.End),
	}
}

// fromGoogleTime keeps whatever the API sent. Values that fail to parse are
// left unset so the event is rejected as malformed downstream.
func fromGoogleTime(dt *calendar.EventDateTime) model.EventTime {
	var out model.EventTime
	if dt == nil {
		return out
	}
	if dt.Date != "" {
		if d, err := civil.ParseDate(dt.Date); err == nil {
			out.Date = &d
		}
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			out.DateTime = &t
		}
	}
	return out
}
