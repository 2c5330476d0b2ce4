package wmeow

import (
	"context"
	"fmt"

	"chatwarden/internal/transport"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

const eventBuffer = 256

// Client adapts a whatsmeow session to the transport contract. All
// protocol activity is funneled into one bounded event channel; when the
// consumer falls behind, events are dropped rather than blocking the
// protocol callbacks.
type Client struct {
	client *whatsmeow.Client
	logger *zap.Logger
	events chan transport.Event
}

// New opens the device store at sessionPath and builds a client. The
// session database uses the same sqlite driver as the main store.
func New(ctx context.Context, sessionPath string, logger *zap.Logger) (*Client, error) {
	container, err := sqlstore.New(ctx, "sqlite", "file:"+sessionPath+"?_pragma=foreign_keys(1)", newWALog(logger.Named("wadb")))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	wm := whatsmeow.NewClient(device, newWALog(logger.Named("wa")))
	// reconnects are owned by the lifecycle manager
	wm.EnableAutoReconnect = false

	c := &Client{
		client: wm,
		logger: logger,
		events: make(chan transport.Event, eventBuffer),
	}
	wm.AddEventHandler(c.handleEvent)
	return c, nil
}

func (c *Client) Events() <-chan transport.Event {
	return c.events
}

// Connect starts the session. When the device is not yet paired, the QR
// channel is pumped into AwaitingScan updates so the lifecycle manager
// can surface the pairing challenge.
func (c *Client) Connect(ctx context.Context) error {
	if c.client.Store.ID == nil {
		qr, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		go c.pumpQR(qr)
	}
	c.emit(transport.ConnectionUpdate{State: transport.LinkConnecting})
	return c.client.Connect()
}

func (c *Client) Disconnect() {
	c.client.Disconnect()
}

func (c *Client) pumpQR(qr <-chan whatsmeow.QRChannelItem) {
	for item := range qr {
		switch item.Event {
		case "code":
			c.emit(transport.ConnectionUpdate{
				State:            transport.LinkAwaitingScan,
				PairingChallenge: item.Code,
			})
		case "timeout":
			c.logger.Warn("pairing challenge expired before scan")
		}
	}
}

func (c *Client) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		c.emit(transport.ConnectionUpdate{State: transport.LinkOpen})
	case *events.LoggedOut:
		c.emit(transport.ConnectionUpdate{State: transport.LinkClosed, CloseCode: transport.CloseLoggedOut})
	case *events.StreamReplaced:
		c.emit(transport.ConnectionUpdate{State: transport.LinkClosed, CloseCode: transport.CloseStreamReplaced})
	case *events.StreamError:
		c.emit(transport.ConnectionUpdate{State: transport.LinkClosed, CloseCode: transport.CloseStreamError})
	case *events.Disconnected:
		c.emit(transport.ConnectionUpdate{State: transport.LinkClosed, CloseCode: transport.CloseGone})
	case *events.Message:
		c.emit(mapMessage(e))
	}
}

func mapMessage(e *events.Message) transport.Envelope {
	env := transport.Envelope{
		MessageID: string(e.Info.ID),
		Chat:      e.Info.Chat.String(),
		Sender:    e.Info.Sender.String(),
		IsGroup:   e.Info.IsGroup,
		FromSelf:  e.Info.IsFromMe,
		Broadcast: e.Info.Chat == types.StatusBroadcastJID,
		Timestamp: e.Info.Timestamp,
	}
	msg := e.Message
	if msg == nil {
		return env
	}
	env.Body = msg.GetConversation()
	env.ExtendedBody = msg.GetExtendedTextMessage().GetText()
	env.ImageCaption = msg.GetImageMessage().GetCaption()
	env.VideoCaption = msg.GetVideoMessage().GetCaption()
	return env
}

func (c *Client) emit(ev transport.Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event channel full, dropping event")
	}
}

func (c *Client) SendText(ctx context.Context, chat, text string, opts transport.SendOptions) error {
	jid, err := types.ParseJID(chat)
	if err != nil {
		return fmt.Errorf("parse chat jid: %w", err)
	}

	var msg *waE2E.Message
	if len(opts.Mentions) > 0 || opts.QuotedID != "" {
		info := &waE2E.ContextInfo{}
		if len(opts.Mentions) > 0 {
			info.MentionedJID = opts.Mentions
		}
		if opts.QuotedID != "" {
			info.StanzaID = proto.String(opts.QuotedID)
		}
		msg = &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text:        proto.String(text),
				ContextInfo: info,
			},
		}
	} else {
		msg = &waE2E.Message{Conversation: proto.String(text)}
	}

	_, err = c.client.SendMessage(ctx, jid, msg)
	return err
}

func (c *Client) SendReaction(ctx context.Context, chat, sender, messageID, emoji string) error {
	chatJID, err := types.ParseJID(chat)
	if err != nil {
		return fmt.Errorf("parse chat jid: %w", err)
	}
	senderJID, err := types.ParseJID(sender)
	if err != nil {
		return fmt.Errorf("parse sender jid: %w", err)
	}
	_, err = c.client.SendMessage(ctx, chatJID, c.client.BuildReaction(chatJID, senderJID, types.MessageID(messageID), emoji))
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, chat, messageID string) error {
	chatJID, err := types.ParseJID(chat)
	if err != nil {
		return fmt.Errorf("parse chat jid: %w", err)
	}
	_, err = c.client.SendMessage(ctx, chatJID, c.client.BuildRevoke(chatJID, types.EmptyJID, types.MessageID(messageID)))
	return err
}
