package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"linkbot/internal/registry"
	"linkbot/internal/transport"
	"linkbot/pkg/logx"
)

// fakeClock hands out sleep channels on demand so tests can observe every
// requested duration and release sleeps explicitly.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits chan *sleep
}

type sleep struct {
	d  time.Duration
	ch chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), waits: make(chan *sleep, 8)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	s := &sleep{d: d, ch: make(chan time.Time, 1)}
	c.waits <- s
	return s.ch
}

func (c *fakeClock) nextSleep(t *testing.T) *sleep {
	t.Helper()
	select {
	case s := <-c.waits:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcaster to sleep")
		return nil
	}
}

func (c *fakeClock) release(s *sleep) {
	c.mu.Lock()
	c.now = c.now.Add(s.d)
	now := c.now
	c.mu.Unlock()
	s.ch <- now
}

// fakeAdapter records sends and fails (or panics) for selected chats.
type fakeAdapter struct {
	mu       sync.Mutex
	sent     []int64
	failFor  map[int64]bool
	panicFor map[int64]bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{failFor: map[int64]bool{}, panicFor: map[int64]bool{}}
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                               { return nil }
func (f *fakeAdapter) ChatTitle(ctx context.Context, chatID int64) (string, error)  { return "", nil }
func (f *fakeAdapter) ChatAdmins(ctx context.Context, chatID int64) ([]int64, error) {
	return nil, nil
}
func (f *fakeAdapter) BotUsername() string { return "linkbot" }

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	panicNow := f.panicFor[to.ChatID]
	fail := f.failFor[to.ChatID]
	if !panicNow && !fail {
		f.sent = append(f.sent, to.ChatID)
	}
	f.mu.Unlock()
	if panicNow {
		panic("adapter exploded")
	}
	if fail {
		return transport.MessageRef{}, errors.New("chat not found")
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) sentTo() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.sent...)
}

func newTestBroadcaster(reg *registry.Registry, ad transport.Adapter) *Broadcaster {
	return New(Config{RatePerSec: 100}, reg, ad, logx.Nop())
}

func TestRunSleepsForConfiguredInterval(t *testing.T) {
	reg := registry.New("https://default.example", 24*time.Hour)
	if err := reg.SetInterval(time.Hour); err != nil {
		t.Fatalf("SetInterval: %v", err)
	}
	ad := newFakeAdapter()
	b := newTestBroadcaster(reg, ad)
	clk := newFakeClock()
	b.SetClock(clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	first := clk.nextSleep(t)
	if first.d != 3600*time.Second {
		t.Fatalf("first sleep = %v, want 3600s", first.d)
	}

	// An interval change during the sleep must not shorten it; it applies to
	// the next cycle only.
	if err := reg.SetInterval(2 * time.Hour); err != nil {
		t.Fatalf("SetInterval: %v", err)
	}
	clk.release(first)

	second := clk.nextSleep(t)
	if second.d != 2*time.Hour {
		t.Fatalf("second sleep = %v, want 2h", second.d)
	}

	cancel()
	clk.release(second)
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestPassContinuesAfterPerChatFailure(t *testing.T) {
	reg := registry.New("https://default.example", 24*time.Hour)
	for _, id := range []int64{1, 2, 3} {
		reg.Activate(id)
	}
	ad := newFakeAdapter()
	ad.failFor[2] = true
	b := newTestBroadcaster(reg, ad)

	if err := b.runPass(context.Background()); err != nil {
		t.Fatalf("runPass: %v", err)
	}

	got := ad.sentTo()
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("sent to %v, want [1 3]", got)
	}
	if reg.Active(2) {
		t.Fatal("failing chat still active")
	}
	if !reg.Active(1) || !reg.Active(3) {
		t.Fatal("healthy chats were deactivated")
	}
	if _, ok := reg.LastBroadcast(1); !ok {
		t.Fatal("no broadcast recorded for chat 1")
	}
	if _, ok := reg.LastBroadcast(2); ok {
		t.Fatal("broadcast recorded for failed chat 2")
	}
}

func TestRemovedChatSkippedOnNextPass(t *testing.T) {
	reg := registry.New("https://default.example", 24*time.Hour)
	reg.Activate(1)
	reg.Activate(2)
	reg.Deactivate(2)

	ad := newFakeAdapter()
	b := newTestBroadcaster(reg, ad)
	if err := b.runPass(context.Background()); err != nil {
		t.Fatalf("runPass: %v", err)
	}
	if got := ad.sentTo(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("sent to %v, want [1]", got)
	}
}

func TestRunBacksOffAfterPanicInPass(t *testing.T) {
	reg := registry.New("https://default.example", 24*time.Hour)
	reg.Activate(1)
	ad := newFakeAdapter()
	ad.panicFor[1] = true

	b := newTestBroadcaster(reg, ad)
	clk := newFakeClock()
	b.SetClock(clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	clk.release(clk.nextSleep(t))

	// The panic from the pass must be swallowed and followed by the flat
	// 60 second backoff, not a crash.
	backoff := clk.nextSleep(t)
	if backoff.d != retryBackoff {
		t.Fatalf("backoff sleep = %v, want %v", backoff.d, retryBackoff)
	}

	// After the backoff the pass is retried and the loop keeps going.
	ad.mu.Lock()
	ad.panicFor[1] = false
	ad.mu.Unlock()
	clk.release(backoff)

	next := clk.nextSleep(t)
	if got := ad.sentTo(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("retried pass sent to %v, want [1]", got)
	}
	cancel()
	clk.release(next)
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestSendLinkUsesEffectiveLink(t *testing.T) {
	reg := registry.New("https://default.example", 24*time.Hour)
	reg.Activate(9)
	if err := reg.SetLink(9, "https://custom.example/x"); err != nil {
		t.Fatalf("SetLink: %v", err)
	}
	ad := newFakeAdapter()
	b := newTestBroadcaster(reg, ad)

	if err := b.SendLink(context.Background(), 9); err != nil {
		t.Fatalf("SendLink: %v", err)
	}
	if _, ok := reg.LastBroadcast(9); !ok {
		t.Fatal("broadcast time not recorded")
	}
}
