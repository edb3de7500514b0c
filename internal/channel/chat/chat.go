// Package chat sends and retracts Telegram messages for one chat target.
//
// Telegram does not support reliable in-place edits for this use case, so the
// dispatch policy replaces messages by retract-then-send; Retract therefore
// treats "message to delete not found" as the goal state, not an error.
package chat

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"pwnotify/internal/channel"
	logx "pwnotify/pkg/logx"
)

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	Timeout  time.Duration
}

type Sender struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

// New builds a send-only bot (no update polling). The constructor performs a
// getMe call, so an invalid token fails at startup rather than mid-pass.
func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Sender{cfg: cfg, bot: b, log: log}, nil
}

// WithChat returns a Sender addressing a different chat with the same bot.
// Used for the escalation target.
func (s *Sender) WithChat(chatID int64, threadID int) *Sender {
	cp := *s
	cp.cfg.ChatID = chatID
	cp.cfg.ThreadID = threadID
	return &cp
}

func (s *Sender) Send(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg, err := s.bot.Send(
		&tele.Chat{ID: s.cfg.ChatID},
		text,
		&tele.SendOptions{ThreadID: s.cfg.ThreadID, DisableWebPagePreview: true},
	)
	if err != nil {
		return "", fmt.Errorf("chat send: %w", err)
	}
	id := strconv.Itoa(msg.ID)
	s.log.Debug("chat message sent", logx.String("message_id", id))
	return id, nil
}

func (s *Sender) Retract(ctx context.Context, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.bot.Delete(&tele.StoredMessage{ChatID: s.cfg.ChatID, MessageID: messageID})
	if err == nil {
		s.log.Debug("chat message retracted", logx.String("message_id", messageID))
		return nil
	}
	if isNotFound(err) {
		return channel.ErrNotFound
	}
	return fmt.Errorf("chat retract %s: %w", messageID, err)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	// Keep a string fallback: Telegram error descriptions are stable, the
	// telebot error variables less so across versions.
	if tErr, ok := err.(*tele.Error); ok && tErr.Code == 400 &&
		strings.Contains(tErr.Description, "message to delete not found") {
		return true
	}
	return strings.Contains(err.Error(), "message to delete not found")
}
