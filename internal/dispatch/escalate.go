package dispatch

import (
	"context"
	"fmt"

	"pwnotify/internal/channel"
	"pwnotify/internal/directory"
	logx "pwnotify/pkg/logx"
)

// ChatEscalator signals escalations by posting a notice to an operator chat
// target. A forced credential reset or ticket creation would hang off the
// same interface; this daemon only raises the flag.
type ChatEscalator struct {
	Sender channel.ChatSender
	Log    logx.Logger
}

func (e *ChatEscalator) Escalate(ctx context.Context, u directory.UserRecord, count int64) error {
	name := u.DisplayName
	if name == "" {
		name = u.Identity
	}
	text := fmt.Sprintf(
		"🚨 escalation: %s (%s) ignored %d password reminders, manual intervention required (%s)",
		name, u.Identity, count, u.ContactAddress,
	)
	if _, err := e.Sender.Send(ctx, text); err != nil {
		return fmt.Errorf("escalation notice: %w", err)
	}
	if !e.Log.IsZero() {
		e.Log.Warn("escalation notice posted", logx.String("identity", u.Identity), logx.Int64("reminders", count))
	}
	return nil
}
