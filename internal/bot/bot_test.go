package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"chatwarden/internal/audit"
	"chatwarden/internal/config"
	"chatwarden/internal/conn"
	"chatwarden/internal/dispatch"
	"chatwarden/internal/frequency"
	"chatwarden/internal/normalize"
	"chatwarden/internal/spam"
	"chatwarden/internal/transport"

	"go.uber.org/zap"
)

type fakeLink struct {
	mu      sync.Mutex
	texts   []string
	deleted []string
	events  chan transport.Event
}

func newFakeLink() *fakeLink {
	return &fakeLink{events: make(chan transport.Event, 64)}
}

func (f *fakeLink) SendText(ctx context.Context, chat, text string, opts transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeLink) SendReaction(ctx context.Context, chat, sender, messageID, emoji string) error {
	return nil
}

func (f *fakeLink) DeleteMessage(ctx context.Context, chat, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeLink) Connect(ctx context.Context) error { return nil }

func (f *fakeLink) Disconnect() {}

func (f *fakeLink) Events() <-chan transport.Event { return f.events }

func (f *fakeLink) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeClock struct{ now time.Time }

func (f fakeClock) Now() time.Time { return f.now }

func newTestBot(link *fakeLink) (*Bot, *spam.Analyzer, *conn.Manager) {
	cfg := config.DefaultConfig()
	logger := zap.NewNop()

	manager := conn.NewManager(func(ctx context.Context) error { return nil }, 5, 5*time.Second, logger)

	tracker := frequency.NewTracker(60*time.Second, 10)
	tracker.WithClock(fakeClock{now: time.Unix(1000, 0)})
	analyzer := spam.NewAnalyzer(cfg.Spam, tracker)

	registry := dispatch.NewRegistry(dispatch.Descriptor{
		Name: "ping",
		Run: func(ctx context.Context, out transport.Sender, call dispatch.Call) error {
			return out.SendText(ctx, call.Chat, "pong", transport.SendOptions{})
		},
	})
	dispatcher := dispatch.NewDispatcher(registry, link, "owner@s", 3*time.Second, time.Minute, logger)

	normalizer := normalize.New(cfg.CommandPrefix, false)
	auditLogger := audit.NewLogger(nil, logger)

	b := New(cfg, logger, link, manager, normalizer, tracker, analyzer, dispatcher, auditLogger, nil)
	return b, analyzer, manager
}

func envelope(sender, body string, n int) transport.Envelope {
	return transport.Envelope{
		MessageID: fmt.Sprintf("m%d", n),
		Chat:      "group@g.us",
		Sender:    sender,
		IsGroup:   true,
		Body:      body,
	}
}

func TestFloodEndToEnd(t *testing.T) {
	link := newFakeLink()
	b, analyzer, _ := newTestBot(link)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		b.handleEvent(ctx, envelope("u1@s", "hello friends", i))
	}

	texts := link.Texts()
	spamReplies := 0
	for _, text := range texts {
		if strings.Contains(text, "spam") {
			spamReplies++
		}
	}
	if spamReplies != 2 {
		t.Fatalf("expected spam replies for messages 11 and 12 only, got %d (%v)", spamReplies, texts)
	}
	if !strings.Contains(texts[len(texts)-1], "Warning 2") {
		t.Fatalf("expected second warning on message 12, got %q", texts[len(texts)-1])
	}
	if got := analyzer.WarningCount("u1@s"); got != 2 {
		t.Fatalf("expected warning counter 2, got %d", got)
	}
}

func TestSpamMessageIsRevokedInGroups(t *testing.T) {
	link := newFakeLink()
	b, _, _ := newTestBot(link)

	b.handleEvent(context.Background(), transport.Envelope{
		MessageID: "m1",
		Chat:      "group@g.us",
		Sender:    "u1@s",
		IsGroup:   true,
		Body:      "this is a scam and a fraud",
	})

	link.mu.Lock()
	deleted := append([]string(nil), link.deleted...)
	link.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "m1" {
		t.Fatalf("expected spam message revoked, got %v", deleted)
	}
}

func TestSuspiciousGetsSoftWarning(t *testing.T) {
	link := newFakeLink()
	b, analyzer, _ := newTestBot(link)

	// two category families + one keyword + repeated run: suspicious
	// but below the spam threshold
	b.handleEvent(context.Background(), transport.Envelope{
		Chat:   "c1",
		Sender: "u1@s",
		Body:   "double your money with this limited time offer, no fraud involved loooool",
	})

	texts := link.Texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "suspicious") {
		t.Fatalf("expected soft warning, got %v", texts)
	}
	if got := analyzer.WarningCount("u1@s"); got != 0 {
		t.Fatalf("suspicious messages must not record warnings, got %d", got)
	}
}

func TestCommandRouting(t *testing.T) {
	link := newFakeLink()
	b, _, _ := newTestBot(link)

	b.handleEvent(context.Background(), transport.Envelope{
		MessageID: "m1",
		Chat:      "c1",
		Sender:    "u1@s",
		Body:      ".ping",
	})
	b.dispatcher.Wait()

	found := false
	for _, text := range link.Texts() {
		if text == "pong" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ping command to run, got %v", link.Texts())
	}
}

func TestConnectionEventsReachManager(t *testing.T) {
	link := newFakeLink()
	b, _, manager := newTestBot(link)
	ctx := context.Background()

	b.handleEvent(ctx, transport.ConnectionUpdate{State: transport.LinkOpen})
	if manager.State() != conn.StateOpen {
		t.Fatalf("expected open state, got %s", manager.State())
	}

	b.handleEvent(ctx, transport.Envelope{Chat: "c1", Sender: "u1@s", Body: "hi"})
	if got := manager.Snapshot().MessagesProcessed; got != 1 {
		t.Fatalf("expected 1 processed message, got %d", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	link := newFakeLink()
	b, _, _ := newTestBot(link)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	link.events <- transport.Envelope{Chat: "c1", Sender: "u1@s", Body: "hi"}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run loop did not stop on cancel")
	}
}
