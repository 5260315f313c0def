package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "aviamon/internal/transport"
	logx "aviamon/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []string
	fails int // fail this many sends before succeeding
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                    { return nil }

func (a *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fails > 0 {
		a.fails--
		return kit.MessageRef{}, errors.New("send failed")
	}
	a.sent = append(a.sent, text)
	return kit.MessageRef{ChatID: 1, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (a *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (a *fakeAdapter) sentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

func (a *fakeAdapter) lastSent() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return ""
	}
	return a.sent[len(a.sent)-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func notification(text string, priority int) kit.Notification {
	return kit.Notification{
		Channel:  "telegram",
		Priority: priority,
		Target:   kit.ChatTarget{ChatID: 100},
		Text:     text,
	}
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	s := New(Config{Enabled: true, RatePerSec: 100}, ad, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), notification("hello", 0)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(t, func() bool { return ad.sentCount() == 1 })
	if got := ad.lastSent(); got != "hello" {
		t.Fatalf("sent = %q", got)
	}
	if hist := s.Snapshot(); len(hist) != 1 || hist[0].Text != "hello" {
		t.Fatalf("history = %+v", hist)
	}
}

func TestNotifyDisabled(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: false}, &fakeAdapter{}, logx.Nop(), nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), notification("x", 0)); err != ErrDisabled {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestDedupWindowSuppressesRepeats(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	s := New(Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Minute}, ad, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.Notify(ctx, notification("same alert", 9)); err != nil {
			t.Fatalf("notify %d: %v", i, err)
		}
	}
	// A different text is not suppressed.
	if err := s.Notify(ctx, notification("other alert", 9)); err != nil {
		t.Fatalf("notify other: %v", err)
	}

	waitFor(t, func() bool { return ad.sentCount() == 2 })
	time.Sleep(20 * time.Millisecond)
	if n := ad.sentCount(); n != 2 {
		t.Fatalf("sent %d messages, want 2", n)
	}
}

func TestDedupPrefersStableKey(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	s := New(Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Minute}, ad, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	ctx := context.Background()
	// Same identity, different rendered texts (a clock line, say):
	// only the first goes out.
	for i, text := range []string{"alert at 10:00:00", "alert at 10:00:20", "alert at 10:00:40"} {
		n := notification(text, 9)
		n.Key = "alert:room3:urgent:5"
		if err := s.Notify(ctx, n); err != nil {
			t.Fatalf("notify %d: %v", i, err)
		}
	}
	// A different identity is not suppressed.
	other := notification("alert at 10:00:00", 9)
	other.Key = "alert:room3:high:10"
	if err := s.Notify(ctx, other); err != nil {
		t.Fatalf("notify other: %v", err)
	}

	waitFor(t, func() bool { return ad.sentCount() == 2 })
	time.Sleep(20 * time.Millisecond)
	if n := ad.sentCount(); n != 2 {
		t.Fatalf("sent %d messages, want 2", n)
	}
}

func TestPriorityPrefix(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	s := New(Config{Enabled: true, RatePerSec: 100}, ad, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), notification("big spike", 9)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(t, func() bool { return ad.sentCount() == 1 })
	if got := ad.lastSent(); got != "🚨 big spike" {
		t.Fatalf("sent = %q", got)
	}
}

func TestRetryEventuallySends(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{fails: 2}
	s := New(Config{
		Enabled:       true,
		RatePerSec:    100,
		RetryMax:      3,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}, ad, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), notification("flaky", 0)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(t, func() bool { return ad.sentCount() == 1 })
}

func TestStopRejectsNewWork(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, &fakeAdapter{}, logx.Nop(), nil)
	s.Start(context.Background())
	s.Stop(context.Background())

	if err := s.Notify(context.Background(), notification("late", 0)); err != ErrStopped {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d < 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}
