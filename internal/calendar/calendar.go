// Package calendar fetches the current day's events from a calendar source.
package calendar

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/00083ns/mtgnotif/internal/model"
	"go.uber.org/zap"
)

// Fetcher returns the events starting within today's boundaries, ordered by
// start time.
type Fetcher interface {
	FetchToday(ctx context.Context) ([]model.Event, error)
}

// ErrMalformedEvent is reported for records that cannot become an Event.
var ErrMalformedEvent = errors.New("calendar: malformed event")

// UntitledSummary replaces an empty event title.
const UntitledSummary = "(タイトルなし)"

// ClockLayout is the display format of Event.StartTime.
const ClockLayout = "15:04"

// DayBounds returns 00:00:00.000 and 23:59:59.999 of now's date in now's location.
func DayBounds(now time.Time) (time.Time, time.Time) {
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 0, 1).Add(-time.Millisecond)
	return start, end
}

func within(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// occurrence is a source-independent event instance before mapping.
type occurrence struct {
	id          string
	summary     string
	description string
	start       time.Time
}

func toEvent(o occurrence, loc *time.Location) model.Event {
	summary := strings.TrimSpace(o.summary)
	if summary == "" {
		summary = UntitledSummary
	}
	start := o.start.In(loc)
	return model.Event{
		ID:        o.id,
		Summary:   summary,
		StartTime: start.Format(ClockLayout),
		Start:     start,
		DetailURL: strings.TrimSpace(o.description),
	}
}

// toEvents keeps occurrences starting inside [start, end] and maps them in
// start order. Equal starts keep source order.
func toEvents(occs []occurrence, start, end time.Time, loc *time.Location, logger *zap.Logger) []model.Event {
	sort.SliceStable(occs, func(i, j int) bool { return occs[i].start.Before(occs[j].start) })

	events := make([]model.Event, 0, len(occs))
	for _, o := range occs {
		if !within(o.start, start, end) {
			logger.Debug("calendar: event outside today", zap.String("id", o.id), zap.Time("start", o.start))
			continue
		}
		events = append(events, toEvent(o, loc))
	}
	return events
}
