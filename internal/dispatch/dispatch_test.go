package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"chatwarden/internal/transport"

	"go.uber.org/zap"
)

type recordingSender struct {
	mu        sync.Mutex
	texts     []string
	reactions []string
}

func (r *recordingSender) SendText(ctx context.Context, chat, text string, opts transport.SendOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingSender) SendReaction(ctx context.Context, chat, sender, messageID, emoji string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions = append(r.reactions, emoji)
	return nil
}

func (r *recordingSender) DeleteMessage(ctx context.Context, chat, messageID string) error {
	return nil
}

func (r *recordingSender) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

type fakeTimer struct{}

func (fakeTimer) Stop() bool { return true }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	return fakeTimer{}
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func newTestDispatcher(runs *counter, runErr error) (*Dispatcher, *recordingSender, *fakeClock) {
	registry := NewRegistry(
		Descriptor{
			Name: "ping",
			Run: func(ctx context.Context, out transport.Sender, call Call) error {
				runs.inc()
				return runErr
			},
		},
		Descriptor{
			Name:      "check",
			OwnerOnly: true,
			Run: func(ctx context.Context, out transport.Sender, call Call) error {
				runs.inc()
				return nil
			},
		},
		Descriptor{
			Name:      "tag",
			GroupOnly: true,
			Run: func(ctx context.Context, out transport.Sender, call Call) error {
				runs.inc()
				return nil
			},
		},
	)
	sender := &recordingSender{}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	d := NewDispatcher(registry, sender, "owner@s", 3*time.Second, time.Minute, zap.NewNop())
	d.WithClock(clock)
	return d, sender, clock
}

func TestCooldownIdempotence(t *testing.T) {
	runs := &counter{}
	d, sender, clock := newTestDispatcher(runs, nil)
	ctx := context.Background()
	call := Call{Chat: "c1", Sender: "u1"}

	d.Dispatch(ctx, "ping", call)
	d.Dispatch(ctx, "ping", call)
	d.Wait()

	if runs.value() != 1 {
		t.Fatalf("expected one execution inside cooldown window, got %d", runs.value())
	}

	found := false
	for _, text := range sender.Texts() {
		if strings.Contains(text, "wait") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected cooldown notice, got %v", sender.Texts())
	}

	clock.Advance(4 * time.Second)
	d.Dispatch(ctx, "ping", call)
	d.Wait()
	if runs.value() != 2 {
		t.Fatalf("expected re-execution after cooldown expiry, got %d", runs.value())
	}
}

func TestCooldownIsPerSenderAndCommand(t *testing.T) {
	runs := &counter{}
	d, _, _ := newTestDispatcher(runs, nil)
	ctx := context.Background()

	d.Dispatch(ctx, "ping", Call{Chat: "c1", Sender: "u1"})
	d.Dispatch(ctx, "ping", Call{Chat: "c1", Sender: "u2"})
	d.Dispatch(ctx, "tag", Call{Chat: "c1", Sender: "u1", IsGroup: true})
	d.Wait()

	if runs.value() != 3 {
		t.Fatalf("cooldowns must be scoped to sender+command, got %d executions", runs.value())
	}
}

func TestUnknownCommandIsSilent(t *testing.T) {
	runs := &counter{}
	d, sender, _ := newTestDispatcher(runs, nil)

	d.Dispatch(context.Background(), "nosuch", Call{Chat: "c1", Sender: "u1"})
	d.Wait()

	if runs.value() != 0 || len(sender.Texts()) != 0 {
		t.Fatalf("unknown command must produce no execution and no feedback")
	}
}

func TestOwnerGate(t *testing.T) {
	runs := &counter{}
	d, sender, _ := newTestDispatcher(runs, nil)
	ctx := context.Background()

	d.Dispatch(ctx, "check", Call{Chat: "c1", Sender: "u1"})
	d.Wait()
	if runs.value() != 0 {
		t.Fatalf("non-owner must not execute owner-only command")
	}
	if len(sender.Texts()) != 1 || !strings.Contains(sender.Texts()[0], "owner") {
		t.Fatalf("expected denial notice, got %v", sender.Texts())
	}

	d.Dispatch(ctx, "check", Call{Chat: "c1", Sender: "owner@s"})
	d.Wait()
	if runs.value() != 1 {
		t.Fatalf("owner must execute owner-only command")
	}
}

func TestGroupGate(t *testing.T) {
	runs := &counter{}
	d, sender, _ := newTestDispatcher(runs, nil)

	d.Dispatch(context.Background(), "tag", Call{Chat: "dm", Sender: "u1", IsGroup: false})
	d.Wait()
	if runs.value() != 0 {
		t.Fatalf("group-only command must not run in direct chat")
	}
	if len(sender.Texts()) != 1 || !strings.Contains(sender.Texts()[0], "group") {
		t.Fatalf("expected scope notice, got %v", sender.Texts())
	}
}

func TestCommandFailureNotice(t *testing.T) {
	runs := &counter{}
	d, sender, _ := newTestDispatcher(runs, errors.New("boom"))

	d.Dispatch(context.Background(), "ping", Call{Chat: "c1", Sender: "u1", MessageID: "m1"})
	d.Wait()

	texts := sender.Texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "failed") {
		t.Fatalf("expected generic failure notice, got %v", texts)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	registry := NewRegistry(Descriptor{
		Name: "boom",
		Run: func(ctx context.Context, out transport.Sender, call Call) error {
			panic("unexpected")
		},
	})
	sender := &recordingSender{}
	d := NewDispatcher(registry, sender, "", time.Second, time.Minute, zap.NewNop())

	d.Dispatch(context.Background(), "boom", Call{Chat: "c1", Sender: "u1"})
	d.Wait()

	texts := sender.Texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "failed") {
		t.Fatalf("panicking command must surface a failure notice, got %v", texts)
	}
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	runs := &counter{}
	d, _, _ := newTestDispatcher(runs, nil)

	d.Dispatch(context.Background(), "PING", Call{Chat: "c1", Sender: "u1"})
	d.Wait()
	if runs.value() != 1 {
		t.Fatalf("expected case-insensitive lookup to execute")
	}
}
