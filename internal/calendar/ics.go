package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/00083ns/mtgnotif/internal/model"
	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
	"go.uber.org/zap"
)

// MaxFeedBytes caps the size of a downloaded ICS feed.
const MaxFeedBytes = 16 << 20

// ICS fetches events from an iCalendar subscription URL.
type ICS struct {
	url      string
	client   *http.Client
	loc      *time.Location
	now      func() time.Time
	maxBytes int64
	logger   *zap.Logger
}

// NewICS returns an ICS fetcher for feedURL.
func NewICS(feedURL string, client *http.Client, loc *time.Location, logger *zap.Logger) *ICS {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &ICS{
		url:      feedURL,
		client:   client,
		loc:      loc,
		now:      time.Now,
		maxBytes: MaxFeedBytes,
		logger:   logger,
	}
}

// FetchToday downloads the feed and returns today's occurrences, with
// recurring events expanded into single instances. EXDATE removes instances
// and RECURRENCE-ID overrides replace them.
func (f *ICS) FetchToday(ctx context.Context) ([]model.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("calendar: build ics request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar: fetch ics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar: fetch ics: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("calendar: read ics: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("calendar: ics feed exceeds %d bytes", f.maxBytes)
	}

	start, end := DayBounds(f.now().In(f.loc))
	occs, err := f.parse(string(body), start, end)
	if err != nil {
		return nil, err
	}

	events := toEvents(occs, start, end, f.loc, f.logger)
	f.logger.Info("calendar: fetched ics events", zap.Int("count", len(events)))
	return events, nil
}

// vevent is the subset of a VEVENT needed for expansion.
type vevent struct {
	uid          string
	summary      string
	description  string
	start        time.Time
	rrule        string
	exdates      []time.Time
	recurrenceID *time.Time
	cancelled    bool
}

func (f *ICS) parse(body string, start, end time.Time) ([]occurrence, error) {
	cal, err := ical.ParseCalendar(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("calendar: parse ics: %w", err)
	}

	var bases []vevent
	// RECURRENCE-ID instants per UID; the matching base instances are replaced.
	overridden := make(map[string][]time.Time)
	var occs []occurrence

	for _, ve := range cal.Events() {
		ev, err := readVEvent(ve)
		if err != nil {
			f.logger.Warn("calendar: skipping ics event", zap.String("uid", propValue(ve, ical.ComponentPropertyUniqueId)), zap.Error(err))
			continue
		}
		if ev.recurrenceID == nil {
			bases = append(bases, ev)
			continue
		}
		overridden[ev.uid] = append(overridden[ev.uid], *ev.recurrenceID)
		if !ev.cancelled {
			occs = append(occs, ev.occurrence(ev.start))
		}
	}

	for _, ev := range bases {
		if ev.cancelled {
			continue
		}
		starts, err := ev.startsBetween(start, end)
		if err != nil {
			f.logger.Warn("calendar: skipping ics event", zap.String("uid", ev.uid), zap.Error(err))
			continue
		}
		for _, s := range starts {
			if containsInstant(overridden[ev.uid], s) {
				continue
			}
			occs = append(occs, ev.occurrence(s))
		}
	}
	return occs, nil
}

func readVEvent(ve *ical.VEvent) (vevent, error) {
	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return vevent{}, fmt.Errorf("%w: no DTSTART", ErrMalformedEvent)
	}
	if !strings.Contains(dtstart.Value, "T") {
		return vevent{}, fmt.Errorf("%w: all-day event", ErrMalformedEvent)
	}
	first, err := ve.GetStartAt()
	if err != nil {
		return vevent{}, fmt.Errorf("%w: DTSTART %q: %v", ErrMalformedEvent, dtstart.Value, err)
	}

	ev := vevent{
		uid:         propValue(ve, ical.ComponentPropertyUniqueId),
		summary:     propValue(ve, ical.ComponentPropertySummary),
		description: propValue(ve, ical.ComponentPropertyDescription),
		start:       first,
		rrule:       propValue(ve, ical.ComponentPropertyRrule),
		cancelled:   strings.EqualFold(propValue(ve, ical.ComponentPropertyStatus), "CANCELLED"),
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := parseICSTime(part, tzid(p), first.Location())
			if err != nil {
				return vevent{}, fmt.Errorf("%w: EXDATE %q: %v", ErrMalformedEvent, part, err)
			}
			ev.exdates = append(ev.exdates, t)
		}
	}

	if rid := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); rid != nil {
		t, err := parseICSTime(rid.Value, tzid(rid), first.Location())
		if err != nil {
			return vevent{}, fmt.Errorf("%w: RECURRENCE-ID %q: %v", ErrMalformedEvent, rid.Value, err)
		}
		ev.recurrenceID = &t
	}
	return ev, nil
}

// startsBetween returns the instance starts of ev inside [start, end],
// excluding EXDATEs.
func (ev vevent) startsBetween(start, end time.Time) ([]time.Time, error) {
	if ev.rrule == "" {
		if containsInstant(ev.exdates, ev.start) {
			return nil, nil
		}
		return []time.Time{ev.start}, nil
	}

	opt, err := rrule.StrToROption(ev.rrule)
	if err != nil {
		return nil, fmt.Errorf("%w: RRULE %q: %v", ErrMalformedEvent, ev.rrule, err)
	}
	opt.Dtstart = ev.start
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%w: RRULE %q: %v", ErrMalformedEvent, ev.rrule, err)
	}

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.exdates {
		set.ExDate(ex.In(ev.start.Location()))
	}
	loc := ev.start.Location()
	return set.Between(start.In(loc), end.In(loc), true), nil
}

func (ev vevent) occurrence(start time.Time) occurrence {
	return occurrence{
		id:          ev.uid,
		summary:     ev.summary,
		description: ev.description,
		start:       start,
	}
}

func containsInstant(list []time.Time, t time.Time) bool {
	for _, v := range list {
		if v.Equal(t) {
			return true
		}
	}
	return false
}

func tzid(p *ical.IANAProperty) string {
	if vs, ok := p.ICalParameters["TZID"]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// parseICSTime parses a DATE-TIME value. UTC values end in Z; otherwise the
// TZID parameter, or fallback for floating times, gives the location.
func parseICSTime(v, tz string, fallback *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	loc := fallback
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, err
		}
		loc = l
	}
	return time.ParseInLocation("20060102T150405", v, loc)
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	p := ve.GetProperty(prop)
	if p == nil {
		return ""
	}
	return p.Value
}
