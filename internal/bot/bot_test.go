package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/00083ns/mtgnotif/internal/auth"
	"github.com/00083ns/mtgnotif/internal/config"
	"github.com/00083ns/mtgnotif/internal/model"
	"go.uber.org/zap/zaptest"
)

type fakeFetcher struct {
	events []model.Event
	err    error
	panics bool
}

func (f *fakeFetcher) FetchToday(context.Context) ([]model.Event, error) {
	if f.panics {
		panic("calendar exploded")
	}
	return f.events, f.err
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	fail     func(message string) error
}

func (n *fakeNotifier) Notify(_ context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	if n.fail != nil {
		return n.fail(message)
	}
	return nil
}

func (n *fakeNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (ft *fakeTimers) after(d time.Duration, f func()) func() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{delay: d, f: f}
	ft.timers = append(ft.timers, t)
	return func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		if t.stopped || t.fired {
			return false
		}
		t.stopped = true
		return true
	}
}

func (ft *fakeTimers) fireAll() {
	ft.mu.Lock()
	var due []*fakeTimer
	for _, t := range ft.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	ft.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (ft *fakeTimers) delays() []time.Duration {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	out := make([]time.Duration, 0, len(ft.timers))
	for _, t := range ft.timers {
		out = append(out, t.delay)
	}
	return out
}

var testNow = time.Date(2026, 10, 16, 8, 40, 0, 0, time.UTC)

func newTestBot(t *testing.T, fetcher *fakeFetcher, notifier *fakeNotifier) (*Bot, *fakeTimers) {
	t.Helper()

	cfg := &config.Config{
		LocalTimezone:  time.UTC,
		ReminderOffset: 2 * time.Minute,
	}
	b := New(cfg, fetcher, notifier, zaptest.NewLogger(t))
	timers := &fakeTimers{}
	b.reminders.now = func() time.Time { return testNow }
	b.reminders.after = timers.after
	return b, timers
}

func TestFormatDigest(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		events []model.Event
		want   string
	}{
		{
			name: "empty",
			want: "【本日のMTG予定】\n 本日MTGの予定はありません",
		},
		{
			name:   "single without url",
			events: []model.Event{{Summary: "Standup", StartTime: "09:00"}},
			want:   "【本日のMTG予定】\n\t･ 09:00 - Standup",
		},
		{
			name: "keeps order and appends url",
			events: []model.Event{
				{Summary: "Standup", StartTime: "09:00"},
				{Summary: "Review", StartTime: "13:30", DetailURL: "https://meet.example.com/review"},
				{Summary: "Standup", StartTime: "09:00"},
			},
			want: "【本日のMTG予定】\n\t･ 09:00 - Standup\n\t･ 13:30 - Review (https://meet.example.com/review)\n\t･ 09:00 - Standup",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatDigest(tc.events); got != tc.want {
				t.Fatalf("FormatDigest() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFormatReminder(t *testing.T) {
	t.Parallel()
	got := FormatReminder(model.Event{Summary: "Standup"}, 2*time.Minute)
	if want := `"Standup" が2分後に始まります`; got != want {
		t.Fatalf("FormatReminder() = %q, want %q", got, want)
	}
	got = FormatReminder(model.Event{Summary: "Review", DetailURL: "https://meet.example.com/r"}, 5*time.Minute)
	if want := "\"Review\" が5分後に始まります \n https://meet.example.com/r"; got != want {
		t.Fatalf("FormatReminder() = %q, want %q", got, want)
	}
}

func TestFireAt(t *testing.T) {
	t.Parallel()
	day := time.Date(2026, 10, 16, 6, 0, 0, 0, time.UTC)

	got, err := FireAt(day, "09:00", 2*time.Minute)
	if err != nil {
		t.Fatalf("FireAt returned error: %v", err)
	}
	if want := time.Date(2026, 10, 16, 8, 58, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("FireAt = %v, want %v", got, want)
	}

	got, err = FireAt(day, "00:01", 2*time.Minute)
	if err != nil {
		t.Fatalf("FireAt returned error: %v", err)
	}
	if want := time.Date(2026, 10, 15, 23, 59, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("FireAt = %v, want %v", got, want)
	}

	if _, err := FireAt(day, "9am", 2*time.Minute); err == nil {
		t.Fatalf("expected error for malformed start time")
	}
}

func TestRunPostsDigestAndSchedulesReminder(t *testing.T) {
	t.Parallel()
	notifier := &fakeNotifier{}
	fetcher := &fakeFetcher{events: []model.Event{{Summary: "Standup", StartTime: "09:00"}}}
	b, timers := newTestBot(t, fetcher, notifier)

	b.Run(context.Background())

	msgs := notifier.Messages()
	if len(msgs) != 1 || msgs[0] != "【本日のMTG予定】\n\t･ 09:00 - Standup" {
		t.Fatalf("unexpected messages: %q", msgs)
	}
	delays := timers.delays()
	if len(delays) != 1 || delays[0] != 18*time.Minute {
		t.Fatalf("expected one reminder at 08:58 (18m from 08:40), got %v", delays)
	}
	if b.reminders.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", b.reminders.Pending())
	}

	timers.fireAll()
	msgs = notifier.Messages()
	if len(msgs) != 2 || msgs[1] != `"Standup" が2分後に始まります` {
		t.Fatalf("unexpected reminder messages: %q", msgs)
	}
	if b.reminders.Pending() != 0 {
		t.Fatalf("Pending = %d after firing, want 0", b.reminders.Pending())
	}
	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
}

func TestRunWithoutEvents(t *testing.T) {
	t.Parallel()
	notifier := &fakeNotifier{}
	b, timers := newTestBot(t, &fakeFetcher{}, notifier)

	b.Run(context.Background())

	msgs := notifier.Messages()
	if len(msgs) != 1 || msgs[0] != "【本日のMTG予定】\n 本日MTGの予定はありません" {
		t.Fatalf("unexpected messages: %q", msgs)
	}
	if len(timers.delays()) != 0 {
		t.Fatalf("expected no reminders, got %v", timers.delays())
	}
}

func TestRunAuthFailureSendsAuthorizationMessage(t *testing.T) {
	t.Parallel()
	notifier := &fakeNotifier{}
	fetcher := &fakeFetcher{err: &auth.RequiredError{AuthURL: "https://accounts.example.com/o/oauth2/auth?client_id=abc"}}
	b, timers := newTestBot(t, fetcher, notifier)

	b.Run(context.Background())

	msgs := notifier.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected a single message, got %q", msgs)
	}
	if strings.Contains(msgs[0], digestHeader) {
		t.Fatalf("digest sent on auth failure: %q", msgs[0])
	}
	if !strings.Contains(msgs[0], "認証が必要です") || !strings.Contains(msgs[0], "https://accounts.example.com/o/oauth2/auth?client_id=abc") {
		t.Fatalf("unexpected auth message: %q", msgs[0])
	}
	if len(timers.delays()) != 0 {
		t.Fatalf("expected no reminders")
	}
}

func TestRunFetchFailure(t *testing.T) {
	t.Parallel()
	notifier := &fakeNotifier{}
	b, _ := newTestBot(t, &fakeFetcher{err: errors.New("connection reset")}, notifier)

	b.Run(context.Background())

	msgs := notifier.Messages()
	if len(msgs) != 1 || msgs[0] != "スケジュールの取得に失敗しました: connection reset" {
		t.Fatalf("unexpected messages: %q", msgs)
	}
}

func TestRunDigestFailureSkipsReminders(t *testing.T) {
	t.Parallel()
	notifier := &fakeNotifier{fail: func(message string) error {
		if strings.HasPrefix(message, digestHeader) {
			return errors.New("webhook 500")
		}
		return nil
	}}
	fetcher := &fakeFetcher{events: []model.Event{{Summary: "Standup", StartTime: "09:00"}}}
	b, timers := newTestBot(t, fetcher, notifier)

	b.Run(context.Background())

	msgs := notifier.Messages()
	if len(msgs) != 2 || msgs[1] != "通知送信中にエラーが発生しました: webhook 500" {
		t.Fatalf("unexpected messages: %q", msgs)
	}
	if len(timers.delays()) != 0 {
		t.Fatalf("reminders scheduled after failed digest: %v", timers.delays())
	}
}

func TestRunRecoversPanic(t *testing.T) {
	t.Parallel()
	notifier := &fakeNotifier{}
	b, _ := newTestBot(t, &fakeFetcher{panics: true}, notifier)

	b.Run(context.Background())

	msgs := notifier.Messages()
	if len(msgs) != 1 || msgs[0] != "MTG通知の実行に失敗しました: calendar exploded" {
		t.Fatalf("unexpected messages: %q", msgs)
	}
}

func TestReminderFailureIsReported(t *testing.T) {
	t.Parallel()
	notifier := &fakeNotifier{fail: func(message string) error {
		if strings.Contains(message, "始まります") {
			return errors.New("timeout")
		}
		return nil
	}}
	fetcher := &fakeFetcher{events: []model.Event{{Summary: "Standup", StartTime: "09:00"}}}
	b, timers := newTestBot(t, fetcher, notifier)

	b.Run(context.Background())
	timers.fireAll()

	msgs := notifier.Messages()
	if len(msgs) != 3 || msgs[2] != `Reminder送信中にエラーが発生しました: "Standup"` {
		t.Fatalf("unexpected messages: %q", msgs)
	}
}

func TestScheduleSkipsPastAndMalformed(t *testing.T) {
	t.Parallel()
	b, timers := newTestBot(t, &fakeFetcher{}, &fakeNotifier{})

	jobs := b.reminders.Schedule([]model.Event{
		{Summary: "Early", StartTime: "08:30"},
		{Summary: "Now", StartTime: "08:42"},
		{Summary: "Broken", StartTime: ""},
		{Summary: "Later", StartTime: "10:00"},
		{Summary: "Later", StartTime: "10:00"},
	})

	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2: %+v", len(jobs), jobs)
	}
	for _, job := range jobs {
		if want := time.Date(2026, 10, 16, 9, 58, 0, 0, time.UTC); !job.FireAt.Equal(want) {
			t.Fatalf("FireAt = %v, want %v", job.FireAt, want)
		}
	}
	if jobs[0].ID == jobs[1].ID {
		t.Fatalf("duplicate events must get independent jobs")
	}
	if got := timers.delays(); len(got) != 2 {
		t.Fatalf("expected 2 timers, got %v", got)
	}
}

func TestStopReleasesWait(t *testing.T) {
	t.Parallel()
	notifier := &fakeNotifier{}
	fetcher := &fakeFetcher{events: []model.Event{
		{Summary: "Standup", StartTime: "09:00"},
		{Summary: "Review", StartTime: "13:30"},
	}}
	b, timers := newTestBot(t, fetcher, notifier)
	b.Run(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait error = %v, want context.Canceled", err)
	}
	if b.reminders.Pending() != 0 {
		t.Fatalf("Pending = %d after stop", b.reminders.Pending())
	}

	timers.fireAll()
	if msgs := notifier.Messages(); len(msgs) != 1 {
		t.Fatalf("stopped reminders still fired: %q", msgs)
	}
}

func TestStartSchedulerValidatesSpec(t *testing.T) {
	t.Parallel()
	b, _ := newTestBot(t, &fakeFetcher{}, &fakeNotifier{})
	if err := b.StartScheduler(); err == nil {
		t.Fatalf("expected error without schedule")
	}

	b.cfg.DigestSchedule = "not a cron spec"
	if err := b.StartScheduler(); err == nil {
		t.Fatalf("expected error for invalid schedule")
	}

	b.cfg.DigestSchedule = "40 8 * * 1-5"
	if err := b.StartScheduler(); err != nil {
		t.Fatalf("StartScheduler returned error: %v", err)
	}
	b.StopScheduler()
}
