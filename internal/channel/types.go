// Package channel defines the delivery contracts shared by the mail and chat
// transports and the dispatch policy that drives them.
package channel

import (
	"context"
	"errors"
)

// Channel identifies a delivery transport.
type Channel string

const (
	Mail Channel = "mail"
	Chat Channel = "chat"
)

// ErrNotFound is returned by Retract when the message is already gone.
// Callers treat it as success: the goal state (message absent) holds.
var ErrNotFound = errors.New("message not found")

// MailSender delivers one mail message. Mail has no message identifier and no
// retract concept in this system; stale mail records are superseded by the
// next send and left to expire.
type MailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// ChatSender delivers and retracts chat messages. Send returns the
// channel-specific message identifier used as the ledger key.
type ChatSender interface {
	Send(ctx context.Context, text string) (messageID string, err error)
	Retract(ctx context.Context, messageID string) error
}
