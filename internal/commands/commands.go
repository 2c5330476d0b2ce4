package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"chatwarden/internal/analytics"
	"chatwarden/internal/conn"
	"chatwarden/internal/dispatch"
	"chatwarden/internal/spam"
	"chatwarden/internal/transport"
)

// Deps holds everything the built-in commands read from. List is a
// late-bound registry accessor so help can enumerate commands without a
// construction cycle.
type Deps struct {
	Prefix    string
	Conn      *conn.Manager
	Analyzer  *spam.Analyzer
	Analytics *analytics.Service
	List      func() []dispatch.Descriptor
}

// All returns the built-in command set.
func All(deps Deps) []dispatch.Descriptor {
	return []dispatch.Descriptor{
		{
			Name:        "ping",
			Description: "Check that the bot is alive.",
			Usage:       "ping",
			Run: func(ctx context.Context, out transport.Sender, call dispatch.Call) error {
				return out.SendText(ctx, call.Chat, "pong 🏓", transport.SendOptions{})
			},
		},
		{
			Name:        "help",
			Description: "List available commands.",
			Usage:       "help",
			Run: func(ctx context.Context, out transport.Sender, call dispatch.Call) error {
				return out.SendText(ctx, call.Chat, helpText(deps.Prefix, deps.List()), transport.SendOptions{})
			},
		},
		{
			Name:        "status",
			Description: "Show the connection health snapshot.",
			Usage:       "status",
			Run:         statusRun(deps.Conn),
		},
		{
			Name:        "health",
			Description: "Alias of status.",
			Usage:       "health",
			Run:         statusRun(deps.Conn),
		},
		{
			Name:        "check",
			Description: "Run the spam analyzer over the given text.",
			Usage:       "check <text>",
			OwnerOnly:   true,
			Run: func(ctx context.Context, out transport.Sender, call dispatch.Call) error {
				if len(call.Args) == 0 {
					return out.SendText(ctx, call.Chat, "Usage: check <text>", transport.SendOptions{})
				}
				analysis := deps.Analyzer.Analyze(strings.Join(call.Args, " "), call.Sender)
				return out.SendText(ctx, call.Chat, formatAnalysis(analysis), transport.SendOptions{})
			},
		},
		{
			Name:        "warnings",
			Description: "Show the warning counter for a sender.",
			Usage:       "warnings <jid>",
			OwnerOnly:   true,
			Run: func(ctx context.Context, out transport.Sender, call dispatch.Call) error {
				if len(call.Args) != 1 {
					return out.SendText(ctx, call.Chat, "Usage: warnings <jid>", transport.SendOptions{})
				}
				count := deps.Analyzer.WarningCount(call.Args[0])
				return out.SendText(ctx, call.Chat, fmt.Sprintf("%s has %d warning(s).", call.Args[0], count), transport.SendOptions{})
			},
		},
		{
			Name:        "report",
			Description: "Summarize detections from the last 24 hours.",
			Usage:       "report",
			OwnerOnly:   true,
			Run: func(ctx context.Context, out transport.Sender, call dispatch.Call) error {
				report, err := deps.Analytics.Report(ctx, time.Now().Add(-24*time.Hour))
				if err != nil {
					return err
				}
				return out.SendText(ctx, call.Chat, formatReport(report), transport.SendOptions{})
			},
		},
		{
			Name:        "tag",
			Description: "Mention everyone in the group.",
			Usage:       "tag [message]",
			GroupOnly:   true,
			Run: func(ctx context.Context, out transport.Sender, call dispatch.Call) error {
				message := "📣"
				if len(call.Args) > 0 {
					message = strings.Join(call.Args, " ")
				}
				return out.SendText(ctx, call.Chat, message, transport.SendOptions{Mentions: []string{call.Chat}})
			},
		},
	}
}

func statusRun(manager *conn.Manager) func(ctx context.Context, out transport.Sender, call dispatch.Call) error {
	return func(ctx context.Context, out transport.Sender, call dispatch.Call) error {
		return out.SendText(ctx, call.Chat, formatSnapshot(manager.Snapshot()), transport.SendOptions{})
	}
}

func helpText(prefix string, descriptors []dispatch.Descriptor) string {
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })

	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, d := range descriptors {
		b.WriteString(fmt.Sprintf("%s%s", prefix, d.Usage))
		if d.OwnerOnly {
			b.WriteString(" (owner)")
		}
		if d.GroupOnly {
			b.WriteString(" (groups)")
		}
		if d.Description != "" {
			b.WriteString(" — " + d.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSnapshot(snapshot conn.HealthSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", snapshot.State)
	fmt.Fprintf(&b, "Health score: %d/100\n", snapshot.Score)
	fmt.Fprintf(&b, "Messages processed: %d\n", snapshot.MessagesProcessed)
	if snapshot.ConnectedSince != nil {
		fmt.Fprintf(&b, "Connected since: %s\n", snapshot.ConnectedSince.Format(time.RFC3339))
	}
	if snapshot.ReconnectAttempts > 0 {
		fmt.Fprintf(&b, "Reconnect attempts: %d\n", snapshot.ReconnectAttempts)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatAnalysis(analysis spam.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Spam: %t\n", analysis.IsSpam)
	fmt.Fprintf(&b, "Suspicious: %t\n", analysis.IsSuspicious)
	fmt.Fprintf(&b, "Confidence: %d\n", analysis.Confidence)
	fmt.Fprintf(&b, "Severity: %s", analysis.Severity)
	if len(analysis.Reasons) > 0 {
		b.WriteString("\nReasons:")
		for _, reason := range analysis.Reasons {
			b.WriteString("\n- " + reason)
		}
	}
	return b.String()
}

func formatReport(report analytics.Report) string {
	if report.Total == 0 {
		return "No detections in the last 24 hours."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Detections (24h): %d\n", report.Total)

	levels := make([]string, 0, len(report.ByLevel))
	for level := range report.ByLevel {
		levels = append(levels, level)
	}
	sort.Strings(levels)
	for _, level := range levels {
		fmt.Fprintf(&b, "%s: %d\n", level, report.ByLevel[level])
	}
	return strings.TrimRight(b.String(), "\n")
}
