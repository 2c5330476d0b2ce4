package transport

import (
	"context"
	"time"
)

// LinkState mirrors the connection-update states reported by the chat
// protocol layer.
type LinkState string

const (
	LinkConnecting   LinkState = "connecting"
	LinkAwaitingScan LinkState = "awaiting_scan"
	LinkOpen         LinkState = "open"
	LinkClosed       LinkState = "closed"
)

// Close reason codes. LoggedOut requires re-pairing and must never be
// retried automatically; everything else is retryable.
const (
	CloseLoggedOut      = "logged_out"
	CloseStreamReplaced = "stream_replaced"
	CloseStreamError    = "stream_error"
	CloseGone           = "connection_lost"
)

// TerminalClose reports whether a close code requires external
// re-authentication instead of an automatic reconnect.
func TerminalClose(code string) bool {
	return code == CloseLoggedOut
}

// Event is a serialized occurrence delivered by a Source: either a
// ConnectionUpdate or an inbound Envelope.
type Event interface {
	event()
}

// ConnectionUpdate describes a link state change.
type ConnectionUpdate struct {
	State            LinkState
	PairingChallenge string
	CloseCode        string
}

func (ConnectionUpdate) event() {}

// Envelope is the transport's wrapped representation of an inbound
// message. Text candidates are kept separate so the normalizer can apply
// its own extraction priority.
type Envelope struct {
	MessageID    string
	Chat         string
	Sender       string
	IsGroup      bool
	FromSelf     bool
	Broadcast    bool
	Body         string
	ExtendedBody string
	ImageCaption string
	VideoCaption string
	Timestamp    time.Time
}

func (Envelope) event() {}

// SendOptions carries optional addressing metadata for outbound text.
type SendOptions struct {
	Mentions []string
	QuotedID string
}

// Sender is the outbound half of the transport, the only surface command
// bodies and the dispatcher talk to.
type Sender interface {
	SendText(ctx context.Context, chat, text string, opts SendOptions) error
	SendReaction(ctx context.Context, chat, sender, messageID, emoji string) error
	DeleteMessage(ctx context.Context, chat, messageID string) error
}

// Source is the inbound half: it owns the protocol connection and
// delivers all activity over a single bounded event channel.
type Source interface {
	Connect(ctx context.Context) error
	Disconnect()
	Events() <-chan Event
}

// Transport is the full collaborator contract, selected once at startup.
type Transport interface {
	Sender
	Source
}
