package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatwarden/internal/transport"

	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

type realTimer struct{ t *time.Timer }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (t realTimer) Stop() bool { return t.t.Stop() }

// Call carries the context a command runs in.
type Call struct {
	Chat      string
	Sender    string
	IsGroup   bool
	MessageID string
	Args      []string
}

// Descriptor declares one command. Run must respect ctx cancellation.
type Descriptor struct {
	Name        string
	Description string
	Usage       string
	OwnerOnly   bool
	GroupOnly   bool
	Run         func(ctx context.Context, out transport.Sender, call Call) error
}

// Registry holds command descriptors. It is populated once at startup
// and read-only afterwards, so lookups need no locking.
type Registry struct {
	commands map[string]Descriptor
	order    []string
}

func NewRegistry(descriptors ...Descriptor) *Registry {
	r := &Registry{commands: make(map[string]Descriptor)}
	for _, d := range descriptors {
		name := strings.ToLower(d.Name)
		if _, exists := r.commands[name]; exists {
			continue
		}
		r.commands[name] = d
		r.order = append(r.order, name)
	}
	return r
}

func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.commands[strings.ToLower(name)]
	return d, ok
}

// List returns descriptors in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.commands[name])
	}
	return out
}

// Dispatcher gates command execution behind authorization and per
// sender+command cooldowns, then runs the command off the event loop.
type Dispatcher struct {
	registry    *Registry
	out         transport.Sender
	logger      *zap.Logger
	ownerJID    string
	cooldown    time.Duration
	execTimeout time.Duration

	mu        sync.Mutex
	clock     Clock
	cooldowns map[string]time.Time

	wg sync.WaitGroup
}

func NewDispatcher(registry *Registry, out transport.Sender, ownerJID string, cooldown, execTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	if cooldown <= 0 {
		cooldown = 3 * time.Second
	}
	if execTimeout <= 0 {
		execTimeout = 2 * time.Minute
	}
	return &Dispatcher{
		registry:    registry,
		out:         out,
		logger:      logger,
		ownerJID:    ownerJID,
		cooldown:    cooldown,
		execTimeout: execTimeout,
		clock:       realClock{},
		cooldowns:   make(map[string]time.Time),
	}
}

func (d *Dispatcher) WithClock(clock Clock) {
	d.mu.Lock()
	d.clock = clock
	d.mu.Unlock()
}

// Dispatch runs one command invocation. Unknown commands are dropped
// without feedback, everything else gets a notice or an execution.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, call Call) {
	descriptor, ok := d.registry.Lookup(name)
	if !ok {
		return
	}

	if descriptor.OwnerOnly && call.Sender != d.ownerJID {
		d.notice(ctx, call.Chat, "This command is restricted to the bot owner.")
		return
	}
	if descriptor.GroupOnly && !call.IsGroup {
		d.notice(ctx, call.Chat, "This command only works in group chats.")
		return
	}

	key := call.Sender + "\x00" + descriptor.Name
	d.mu.Lock()
	now := d.clock.Now()
	if until, held := d.cooldowns[key]; held && now.Before(until) {
		remaining := until.Sub(now)
		d.mu.Unlock()
		d.notice(ctx, call.Chat, fmt.Sprintf("Please wait %.0fs before using %s again.", remaining.Seconds(), descriptor.Name))
		return
	}
	// entry is written while still holding the lock, so a concurrent
	// duplicate of the same invocation cannot pass the check
	d.cooldowns[key] = now.Add(d.cooldown)
	d.clock.AfterFunc(d.cooldown, func() {
		d.mu.Lock()
		delete(d.cooldowns, key)
		d.mu.Unlock()
	})
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(descriptor, call)
}

func (d *Dispatcher) run(descriptor Descriptor, call Call) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.execTimeout)
	defer cancel()

	d.react(ctx, call, "⏳")

	err := d.safeRun(ctx, descriptor, call)
	if err != nil {
		d.logger.Error("command failed",
			zap.String("command", descriptor.Name),
			zap.String("sender", call.Sender),
			zap.Error(err))
		d.react(ctx, call, "❌")
		d.notice(ctx, call.Chat, "Command failed, please try again later.")
		return
	}
	d.react(ctx, call, "✅")
}

func (d *Dispatcher) safeRun(ctx context.Context, descriptor Descriptor, call Call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return descriptor.Run(ctx, d.out, call)
}

func (d *Dispatcher) react(ctx context.Context, call Call, emoji string) {
	if call.MessageID == "" {
		return
	}
	if err := d.out.SendReaction(ctx, call.Chat, call.Sender, call.MessageID, emoji); err != nil {
		d.logger.Warn("reaction failed", zap.String("chat", call.Chat), zap.Error(err))
	}
}

func (d *Dispatcher) notice(ctx context.Context, chat, text string) {
	if err := d.out.SendText(ctx, chat, text, transport.SendOptions{}); err != nil {
		d.logger.Warn("notice failed", zap.String("chat", chat), zap.Error(err))
	}
}

// Wait blocks until all in-flight command executions finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
