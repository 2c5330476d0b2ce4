package normalize

import (
	"strings"

	"chatwarden/internal/transport"
)

// Kind classifies a normalized envelope.
type Kind int

const (
	KindIgnore Kind = iota
	KindText
	KindCommand
)

// Event is the normalized form of an inbound envelope.
type Event struct {
	Kind      Kind
	Text      string
	Command   string
	Args      []string
	Sender    string
	Chat      string
	IsGroup   bool
	MessageID string
}

// Normalizer turns transport envelopes into text or command events.
type Normalizer struct {
	prefix    string
	allowSelf bool
}

func New(prefix string, allowSelf bool) *Normalizer {
	if prefix == "" {
		prefix = "."
	}
	return &Normalizer{prefix: prefix, allowSelf: allowSelf}
}

// Classify applies the normalization rules in order: broadcast and self
// envelopes are dropped (self only observed when self-command mode is
// on), then text is extracted by field priority and split into a command
// or ordinary text event.
func (n *Normalizer) Classify(env transport.Envelope) Event {
	if env.Broadcast {
		return Event{Kind: KindIgnore}
	}
	if env.FromSelf && !n.allowSelf {
		return Event{Kind: KindIgnore}
	}

	text := extractText(env)
	if text == "" {
		return Event{Kind: KindIgnore}
	}

	base := Event{
		Text:      text,
		Sender:    env.Sender,
		Chat:      env.Chat,
		IsGroup:   env.IsGroup,
		MessageID: env.MessageID,
	}

	if strings.HasPrefix(text, n.prefix) {
		tokens := strings.Fields(strings.TrimPrefix(text, n.prefix))
		if len(tokens) == 0 {
			base.Kind = KindText
			return base
		}
		base.Kind = KindCommand
		base.Command = strings.ToLower(tokens[0])
		base.Args = tokens[1:]
		return base
	}

	base.Kind = KindText
	return base
}

// extractText picks the first populated candidate in priority order:
// conversational body, extended text, image caption, video caption.
func extractText(env transport.Envelope) string {
	for _, candidate := range []string{env.Body, env.ExtendedBody, env.ImageCaption, env.VideoCaption} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}
