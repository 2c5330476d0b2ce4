package bot

import (
	"context"
	"fmt"
	"strings"

	"chatwarden/internal/audit"
	"chatwarden/internal/config"
	"chatwarden/internal/conn"
	"chatwarden/internal/dispatch"
	"chatwarden/internal/frequency"
	"chatwarden/internal/normalize"
	"chatwarden/internal/spam"
	"chatwarden/internal/storage"
	"chatwarden/internal/transport"

	"go.uber.org/zap"
)

// Bot consumes the transport event stream on a single loop and routes
// each event to the lifecycle manager, the detection engines, or the
// command dispatcher. Command bodies run off-loop in the dispatcher.
type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	link       transport.Transport
	manager    *conn.Manager
	normalizer *normalize.Normalizer
	tracker    *frequency.Tracker
	analyzer   *spam.Analyzer
	dispatcher *dispatch.Dispatcher
	audit      *audit.Logger
	store      *storage.Store
}

func New(cfg config.Config, logger *zap.Logger, link transport.Transport, manager *conn.Manager, normalizer *normalize.Normalizer, tracker *frequency.Tracker, analyzer *spam.Analyzer, dispatcher *dispatch.Dispatcher, auditLogger *audit.Logger, store *storage.Store) *Bot {
	b := &Bot{
		cfg:        cfg,
		logger:     logger,
		link:       link,
		manager:    manager,
		normalizer: normalizer,
		tracker:    tracker,
		analyzer:   analyzer,
		dispatcher: dispatcher,
		audit:      auditLogger,
		store:      store,
	}
	if b.audit != nil && cfg.OwnerJID != "" {
		b.audit.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			if entry.Level != audit.LevelCrit {
				return
			}
			b.reply(ctx, cfg.OwnerJID, fmt.Sprintf("🚨 %s: %s (%s)", entry.Event, entry.Details, entry.SenderJID))
		})
	}
	return b
}

// Run consumes events until the context is cancelled or the transport
// closes its stream.
func (b *Bot) Run(ctx context.Context) {
	events := b.link.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.handleEvent(ctx, ev)
		}
	}
}

func (b *Bot) handleEvent(ctx context.Context, ev transport.Event) {
	switch event := ev.(type) {
	case transport.ConnectionUpdate:
		b.manager.HandleUpdate(ctx, event)
	case transport.Envelope:
		b.handleEnvelope(ctx, event)
	}
}

func (b *Bot) handleEnvelope(ctx context.Context, env transport.Envelope) {
	b.manager.NoteMessage()

	ev := b.normalizer.Classify(env)
	if ev.Kind == normalize.KindIgnore {
		return
	}

	if b.store != nil {
		blocked, err := b.store.IsBlockedSender(ctx, ev.Sender)
		if err != nil {
			b.logger.Warn("block lookup failed", zap.Error(err))
		} else if blocked {
			return
		}
	}

	switch ev.Kind {
	case normalize.KindCommand:
		b.dispatcher.Dispatch(ctx, ev.Command, dispatch.Call{
			Chat:      ev.Chat,
			Sender:    ev.Sender,
			IsGroup:   ev.IsGroup,
			MessageID: ev.MessageID,
			Args:      ev.Args,
		})
	case normalize.KindText:
		b.handleText(ctx, ev)
	}
}

func (b *Bot) handleText(ctx context.Context, ev normalize.Event) {
	b.tracker.Record(ev.Sender)

	analysis := b.analyzer.Analyze(ev.Text, ev.Sender)
	switch {
	case analysis.IsSpam:
		b.handleSpam(ctx, ev, analysis)
	case analysis.IsSuspicious:
		detail := analysisDetail(analysis)
		if b.audit != nil {
			b.audit.Log(ctx, audit.LevelInfo, ev.Chat, ev.Sender, "suspicious_message", detail)
		}
		b.reply(ctx, ev.Chat, "⚠️ This message looks suspicious. Please keep the chat clean.")
	}
}

func (b *Bot) handleSpam(ctx context.Context, ev normalize.Event, analysis spam.Analysis) {
	// the auto-block decision looks at prior offenses only, the current
	// one is recorded right after
	autoBlock := b.analyzer.ShouldAutoBlock(analysis, ev.Sender)
	count := b.analyzer.RecordWarning(ev.Sender)
	if b.store != nil {
		if err := b.store.SetWarningCount(ctx, ev.Sender, count); err != nil {
			b.logger.Warn("warning mirror failed", zap.Error(err))
		}
	}

	detail := analysisDetail(analysis)
	if b.audit != nil {
		b.audit.Log(ctx, audit.LevelWarn, ev.Chat, ev.Sender, "spam_detected", detail)
	}

	if ev.IsGroup && ev.MessageID != "" {
		if err := b.link.DeleteMessage(ctx, ev.Chat, ev.MessageID); err != nil {
			b.logger.Warn("spam revoke failed", zap.String("chat", ev.Chat), zap.Error(err))
		}
	}

	b.reply(ctx, ev.Chat, fmt.Sprintf("🚫 Message flagged as spam. Warning %d.", count))

	if autoBlock {
		if b.store != nil {
			if err := b.store.AddBlockedSender(ctx, ev.Sender, detail); err != nil {
				b.logger.Warn("block persist failed", zap.Error(err))
			}
		}
		if b.audit != nil {
			b.audit.Log(ctx, audit.LevelCrit, ev.Chat, ev.Sender, "auto_block", detail)
		}
		b.logger.Info("sender auto-blocked", zap.String("sender", ev.Sender), zap.Int("warnings", count))
	}
}

func (b *Bot) reply(ctx context.Context, chat, text string) {
	if err := b.link.SendText(ctx, chat, text, transport.SendOptions{}); err != nil {
		b.logger.Warn("reply failed", zap.String("chat", chat), zap.Error(err))
	}
}

func analysisDetail(analysis spam.Analysis) string {
	return fmt.Sprintf("confidence=%d severity=%s reasons=%s", analysis.Confidence, analysis.Severity, strings.Join(analysis.Reasons, "; "))
}
