package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatwarden/internal/transport"

	"go.uber.org/zap"
)

// State is the lifecycle manager's current view of the link. Exactly one
// state is current; transitions are driven only by transport events.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateAwaitingScan State = "awaiting_scan"
	StateOpen         State = "open"
	StateClosed       State = "closed"
)

const historyLimit = 10

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

// StatusHistoryEntry records one state change and how long the previous
// state lasted.
type StatusHistoryEntry struct {
	State    State
	At       time.Time
	Detail   string
	Previous time.Duration
}

// HealthSnapshot is derived observability output, never a source of truth
// for control flow.
type HealthSnapshot struct {
	State             State
	PairingChallenge  string
	ConnectedSince    *time.Time
	ReconnectAttempts int
	MessagesProcessed int64
	Score             int
	History           []StatusHistoryEntry
}

// Manager owns the connection state machine and the bounded flat-delay
// reconnect policy. Retries run through an explicit counter and timer, so
// stack usage stays constant no matter how often the link drops.
type Manager struct {
	logger     *zap.Logger
	dial       func(ctx context.Context) error
	maxRetries int
	retryDelay time.Duration

	mu          sync.Mutex
	clock       Clock
	state       State
	pairing     string
	attempts    int
	connectedAt time.Time
	processed   int64
	lastChange  time.Time
	history     []StatusHistoryEntry
	retryTimer  Timer

	onReady func(ctx context.Context)
	onFatal func(reason string)
}

func NewManager(dial func(ctx context.Context) error, maxRetries int, retryDelay time.Duration, logger *zap.Logger) *Manager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	m := &Manager{
		logger:     logger,
		dial:       dial,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		clock:      realClock{},
		state:      StateDisconnected,
	}
	m.lastChange = m.clock.Now()
	return m
}

func (m *Manager) WithClock(clock Clock) {
	m.mu.Lock()
	m.clock = clock
	m.lastChange = clock.Now()
	m.mu.Unlock()
}

// SetReadyHook registers a callback fired when the link opens, used to
// notify the operator address.
func (m *Manager) SetReadyHook(hook func(ctx context.Context)) {
	m.mu.Lock()
	m.onReady = hook
	m.mu.Unlock()
}

// SetFatalHook registers a callback fired when the retry budget is
// exhausted and a manual restart is required.
func (m *Manager) SetFatalHook(hook func(reason string)) {
	m.mu.Lock()
	m.onFatal = hook
	m.mu.Unlock()
}

// Start moves the machine into Connecting and invokes the transport
// connect procedure. A dial failure is treated as a retryable close.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.transitionLocked(StateConnecting, "startup")
	m.mu.Unlock()

	if err := m.dial(ctx); err != nil {
		m.logger.Warn("connect failed", zap.Error(err))
		m.HandleUpdate(ctx, transport.ConnectionUpdate{State: transport.LinkClosed, CloseCode: transport.CloseStreamError})
	}
}

// Stop cancels any pending reconnect timer.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.mu.Unlock()
}

// HandleUpdate applies one transport connection event to the machine.
func (m *Manager) HandleUpdate(ctx context.Context, update transport.ConnectionUpdate) {
	switch update.State {
	case transport.LinkConnecting:
		m.mu.Lock()
		m.transitionLocked(StateConnecting, "")
		m.mu.Unlock()
	case transport.LinkAwaitingScan:
		m.mu.Lock()
		m.pairing = update.PairingChallenge
		if m.state != StateAwaitingScan {
			m.transitionLocked(StateAwaitingScan, "pairing challenge issued")
		}
		m.mu.Unlock()
	case transport.LinkOpen:
		m.mu.Lock()
		m.attempts = 0
		m.pairing = ""
		m.connectedAt = m.clock.Now()
		m.transitionLocked(StateOpen, "handshake complete")
		ready := m.onReady
		m.mu.Unlock()
		if ready != nil {
			ready(ctx)
		}
	case transport.LinkClosed:
		m.handleClose(ctx, update.CloseCode)
	}
}

func (m *Manager) handleClose(ctx context.Context, code string) {
	m.mu.Lock()
	m.transitionLocked(StateClosed, code)

	if transport.TerminalClose(code) {
		m.transitionLocked(StateDisconnected, "logged out, re-authentication required")
		m.mu.Unlock()
		m.logger.Error("terminal close, manual re-pairing required", zap.String("code", code))
		return
	}

	if m.attempts >= m.maxRetries {
		m.transitionLocked(StateDisconnected, "retry budget exhausted")
		fatal := m.onFatal
		m.mu.Unlock()
		m.logger.Error("reconnect attempts exhausted", zap.Int("attempts", m.maxRetries))
		if fatal != nil {
			fatal("manual restart required")
		}
		return
	}

	m.attempts++
	attempt := m.attempts
	m.transitionLocked(StateConnecting, fmt.Sprintf("reconnect attempt %d/%d", attempt, m.maxRetries))
	m.retryTimer = m.clock.AfterFunc(m.retryDelay, func() {
		m.redial(ctx)
	})
	m.mu.Unlock()
	m.logger.Warn("link closed, reconnect scheduled",
		zap.String("code", code),
		zap.Int("attempt", attempt),
		zap.Duration("delay", m.retryDelay))
}

func (m *Manager) redial(ctx context.Context) {
	if err := m.dial(ctx); err != nil {
		m.logger.Warn("reconnect failed", zap.Error(err))
		m.HandleUpdate(ctx, transport.ConnectionUpdate{State: transport.LinkClosed, CloseCode: transport.CloseStreamError})
	}
}

// NoteMessage counts an inbound message against telemetry. Only messages
// seen while the link is open are counted.
func (m *Manager) NoteMessage() {
	m.mu.Lock()
	if m.state == StateOpen {
		m.processed++
	}
	m.mu.Unlock()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot derives the current health view.
func (m *Manager) Snapshot() HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := HealthSnapshot{
		State:             m.state,
		PairingChallenge:  m.pairing,
		ReconnectAttempts: m.attempts,
		MessagesProcessed: m.processed,
		Score:             m.scoreLocked(),
		History:           append([]StatusHistoryEntry(nil), m.history...),
	}
	if m.state == StateOpen && !m.connectedAt.IsZero() {
		since := m.connectedAt
		snapshot.ConnectedSince = &since
	}
	return snapshot
}

// scoreLocked computes the 0-100 diagnostic health score.
func (m *Manager) scoreLocked() int {
	score := 100
	if m.state != StateOpen {
		score -= 40
	}
	if m.attempts > 2 {
		penalty := 5 * m.attempts
		if penalty > 30 {
			penalty = 30
		}
		score -= penalty
	}
	if m.state == StateOpen {
		if m.clock.Now().Sub(m.connectedAt) <= 5*time.Minute {
			score -= 10
		}
	} else {
		score -= 25
	}
	if score < 0 {
		score = 0
	}
	return score
}

func (m *Manager) transitionLocked(next State, detail string) {
	now := m.clock.Now()
	entry := StatusHistoryEntry{
		State:    next,
		At:       now,
		Detail:   detail,
		Previous: now.Sub(m.lastChange),
	}
	m.history = append(m.history, entry)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
	m.state = next
	m.lastChange = now
}
