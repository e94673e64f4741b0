package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/00083ns/mtgnotif/internal/model"
	"go.uber.org/zap"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// ClientSource supplies an authorized HTTP client for the Calendar API.
type ClientSource interface {
	Client(ctx context.Context) (*http.Client, error)
}

// Google fetches events from a Google Calendar.
type Google struct {
	creds      ClientSource
	calendarID string
	loc        *time.Location
	now        func() time.Time
	opts       []option.ClientOption
	logger     *zap.Logger
}

// NewGoogle returns a Google fetcher for calendarID. Extra client options are
// passed to the Calendar service, e.g. a custom endpoint.
func NewGoogle(creds ClientSource, calendarID string, loc *time.Location, logger *zap.Logger, opts ...option.ClientOption) *Google {
	return &Google{
		creds:      creds,
		calendarID: calendarID,
		loc:        loc,
		now:        time.Now,
		opts:       opts,
		logger:     logger,
	}
}

// FetchToday lists today's single-instance events ordered by start time.
// Errors from the credential source are returned unchanged in the chain so
// that callers can detect authorization problems.
func (g *Google) FetchToday(ctx context.Context) ([]model.Event, error) {
	client, err := g.creds.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("calendar: credentials: %w", err)
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, g.opts...)
	service, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}

	start, end := DayBounds(g.now().In(g.loc))

	var occs []occurrence
	err = service.Events.List(g.calendarID).
		TimeMin(start.Format(time.RFC3339Nano)).
		TimeMax(end.Format(time.RFC3339Nano)).
		SingleEvents(true).
		OrderBy("startTime").
		Pages(ctx, func(page *gcal.Events) error {
			for _, item := range page.Items {
				o, err := fromGoogle(item)
				if err != nil {
					g.logger.Warn("calendar: skipping event", zap.String("id", item.Id), zap.String("summary", item.Summary), zap.Error(err))
					continue
				}
				occs = append(occs, o)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("calendar: list events: %w", err)
	}

	events := toEvents(occs, start, end, g.loc, g.logger)
	g.logger.Info("calendar: fetched events", zap.String("calendar", g.calendarID), zap.Int("count", len(events)))
	return events, nil
}

func fromGoogle(item *gcal.Event) (occurrence, error) {
	if item.Start == nil || item.Start.DateTime == "" {
		return occurrence{}, fmt.Errorf("%w: no start time", ErrMalformedEvent)
	}
	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return occurrence{}, fmt.Errorf("%w: start %q: %v", ErrMalformedEvent, item.Start.DateTime, err)
	}
	return occurrence{
		id:          item.Id,
		summary:     item.Summary,
		description: item.Description,
		start:       start,
	}, nil
}
