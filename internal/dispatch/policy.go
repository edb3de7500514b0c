// Package dispatch implements the notification lifecycle state machine: given
// the current stale-user snapshot and the ledger's view of in-flight messages,
// decide what to send, replace, or retract, and keep the ledger consistent
// with what actually happened on each channel.
//
// Per (identity, channel) the state machine is Absent → Active (successful
// send) → Absent (retract or TTL expiry). There is no edit state: replacement
// is always retract-then-send.
package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"pwnotify/internal/channel"
	"pwnotify/internal/directory"
	"pwnotify/internal/ledger"
	logx "pwnotify/pkg/logx"
)

// Directory is the snapshot provider collaborator.
type Directory interface {
	StaleUsers(ctx context.Context) ([]directory.UserRecord, error)
}

// Escalator is the out-of-band remediation collaborator invoked once a user
// has exhausted the plain-reminder budget. The policy only signals the need;
// it never mutates the directory itself.
type Escalator interface {
	Escalate(ctx context.Context, user directory.UserRecord, count int64) error
}

type Config struct {
	// Threshold is the reminder count at which a dispatch escalates.
	Threshold int

	// ChatPacing is the quiescent interval between chat sends in a pass.
	ChatPacing time.Duration

	// MaxPasswordAgeDays feeds the message content.
	MaxPasswordAgeDays int

	// OpTimeout bounds each individual network side effect.
	OpTimeout time.Duration

	// Location renders timestamps in the operator's timezone.
	Location *time.Location
}

type Deps struct {
	Directory Directory
	Ledger    *ledger.Ledger
	Counter   *ledger.Counter
	Mail      channel.MailSender
	Chat      channel.ChatSender
	Escalator Escalator
}

// Stats summarizes one reconciliation pass.
type Stats struct {
	Stale       int
	MailSent    int
	ChatSent    int
	Retracted   int
	Escalations int
	Failures    int
}

// Reconciler runs single-flight reconciliation passes.
type Reconciler struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	pace *rate.Limiter
	now  func() time.Time

	// runMu enforces single-flight: the scheduler already serializes passes,
	// this guards against a manual trigger racing a scheduled one.
	runMu sync.Mutex
}

func New(cfg Config, deps Deps, log logx.Logger) *Reconciler {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.ChatPacing <= 0 {
		cfg.ChatPacing = 3 * time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{
		cfg:  cfg,
		deps: deps,
		log:  log,
		pace: rate.NewLimiter(rate.Every(cfg.ChatPacing), 1),
		now:  time.Now,
	}
}

// SetPacing changes the chat pacing interval at runtime (config hot reload).
// rate.Limiter.SetLimit is safe against a concurrently running pass.
func (r *Reconciler) SetPacing(d time.Duration) {
	if d <= 0 {
		d = 3 * time.Second
	}
	r.pace.SetLimit(rate.Every(d))
}

// Run executes one reconciliation pass: snapshot → cleanup → per-user
// dispatch. Only a snapshot failure fails the pass; everything after that is
// isolated per user and per side effect.
func (r *Reconciler) Run(ctx context.Context) (Stats, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	var st Stats
	pass := r.log.With(logx.String("pass", uuid.NewString()[:8]))
	start := r.now()
	pass.Info("reconciliation pass started")

	users, err := r.deps.Directory.StaleUsers(ctx)
	if err != nil {
		pass.Error("snapshot failed; pass aborted", logx.Err(err))
		return st, err
	}
	st.Stale = len(users)

	current := make(map[string]directory.UserRecord, len(users))
	for _, u := range users {
		current[u.Identity] = u
	}

	r.cleanup(ctx, pass, current, &st)

	// Deterministic order for testability; correctness does not depend on it.
	sort.Slice(users, func(i, j int) bool { return users[i].Identity < users[j].Identity })

	for _, u := range users {
		if ctx.Err() != nil {
			pass.Warn("pass cancelled", logx.Err(ctx.Err()))
			return st, ctx.Err()
		}
		r.dispatchUser(ctx, pass, u, &st)
	}

	pass.Info("reconciliation pass finished",
		logx.Int("stale", st.Stale),
		logx.Int("mail_sent", st.MailSent),
		logx.Int("chat_sent", st.ChatSent),
		logx.Int("retracted", st.Retracted),
		logx.Int("escalations", st.Escalations),
		logx.Int("failures", st.Failures),
		logx.Duration("took", r.now().Sub(start)))
	return st, nil
}

// cleanup retracts every ledger entry whose owner is no longer in the stale
// set. The account left the set because its password changed (or it left
// scope), so the escalation counter is cleared as well. A failed retract
// leaves the entry in place for the next pass; the store TTL is the backstop.
func (r *Reconciler) cleanup(ctx context.Context, pass logx.Logger, current map[string]directory.UserRecord, st *Stats) {
	entries, err := r.deps.Ledger.All(ctx)
	if err != nil {
		pass.Error("ledger scan failed; cleanup skipped this pass", logx.Err(err))
		st.Failures++
		return
	}

	resetDone := map[string]bool{}
	for _, e := range entries {
		if _, ok := current[e.Record.Identity]; ok {
			continue
		}
		ulog := pass.With(logx.String("identity", e.Record.Identity))

		if !resetDone[e.Record.Identity] {
			resetDone[e.Record.Identity] = true
			if err := r.deps.Counter.Reset(ctx, e.Record.Identity); err != nil {
				ulog.Warn("counter reset failed", logx.Err(err))
			}
		}

		if e.Record.Channel == channel.Chat {
			if err := r.retractChat(ctx, e.MessageID); err != nil {
				ulog.Warn("retract failed; entry kept for next pass",
					logx.String("message_id", e.MessageID), logx.Err(err))
				st.Failures++
				continue
			}
		}
		// Mail has no retract primitive: the record is simply dropped and the
		// mail is superseded by whatever comes next.
		if err := r.deps.Ledger.Remove(ctx, e.MessageID); err != nil {
			ulog.Warn("ledger remove failed", logx.String("message_id", e.MessageID), logx.Err(err))
			st.Failures++
			continue
		}
		st.Retracted++
		ulog.Info("notification retracted (condition cleared)",
			logx.String("channel", string(e.Record.Channel)),
			logx.String("message_id", e.MessageID))
	}
}

// dispatchUser runs steps 4.3a–d for one user. Every failure is logged with
// the identity and isolated: it never aborts the enclosing pass.
func (r *Reconciler) dispatchUser(ctx context.Context, pass logx.Logger, u directory.UserRecord, st *Stats) {
	ulog := pass.With(logx.String("identity", u.Identity))

	// Existing-message replacement: the notification must always reflect the
	// latest snapshot, and chat edits are unreliable, so old messages go away
	// first. Retracts are best-effort; a stuck message never blocks the new
	// send, and its ledger entry is dropped so the (identity, channel)
	// invariant holds.
	existing, err := r.deps.Ledger.FindByIdentity(ctx, u.Identity)
	if err != nil {
		ulog.Error("ledger lookup failed; user skipped this pass", logx.Err(err))
		st.Failures++
		return
	}
	for _, e := range existing {
		if e.Record.Channel == channel.Chat {
			if err := r.retractChat(ctx, e.MessageID); err != nil {
				ulog.Warn("old message retract failed; superseding anyway",
					logx.String("message_id", e.MessageID), logx.Err(err))
			}
		}
		if err := r.deps.Ledger.Remove(ctx, e.MessageID); err != nil {
			ulog.Warn("ledger remove failed", logx.String("message_id", e.MessageID), logx.Err(err))
		}
	}

	// Escalation check precedes the sends: the decision is based on how many
	// plain reminders were already delivered.
	count, err := r.deps.Counter.Get(ctx, u.Identity)
	if err != nil {
		ulog.Warn("counter read failed; assuming zero", logx.Err(err))
		count = 0
	}
	escalate := count >= int64(r.cfg.Threshold)

	msg := r.compose(u, count, escalate)

	r.sendMail(ctx, ulog, u, msg, escalate, st)
	r.sendChat(ctx, ulog, u, msg, st)

	if escalate {
		st.Escalations++
		octx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
		err := r.deps.Escalator.Escalate(octx, u, count)
		cancel()
		if err != nil {
			ulog.Error("escalation signal failed; will retry next pass", logx.Err(err))
			st.Failures++
			return
		}
		ulog.Warn("user escalated", logx.Int64("reminders", count))
		if err := r.deps.Counter.Reset(ctx, u.Identity); err != nil {
			ulog.Warn("counter reset after escalation failed", logx.Err(err))
		}
	}
}

func (r *Reconciler) sendMail(ctx context.Context, ulog logx.Logger, u directory.UserRecord, msg content, escalate bool, st *Stats) {
	octx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	err := r.deps.Mail.Send(octx, u.ContactAddress, msg.subject, msg.htmlBody)
	cancel()
	if err != nil {
		ulog.Error("mail send failed", logx.String("to", u.ContactAddress), logx.Err(err))
		st.Failures++
		return
	}
	st.MailSent++

	// Mail returns no message identifier; a synthetic one keys the record.
	rec := r.record(u, channel.Mail)
	if err := r.deps.Ledger.Put(ctx, uuid.NewString(), rec); err != nil {
		// The mail is out but bookkeeping failed. Not retried: a re-send
		// would duplicate the user-visible message.
		ulog.Error("ledger write failed after mail send", logx.Err(err))
		st.Failures++
	}

	// Only confirmed plain mail reminders count toward escalation.
	if !escalate {
		n, err := r.deps.Counter.Increment(ctx, u.Identity)
		if err != nil {
			ulog.Error("counter increment failed", logx.Err(err))
			st.Failures++
			return
		}
		ulog.Info("mail reminder sent", logx.String("to", u.ContactAddress), logx.Int64("count", n))
	}
}

func (r *Reconciler) sendChat(ctx context.Context, ulog logx.Logger, u directory.UserRecord, msg content, st *Stats) {
	// Pacing applies to the chat provider only; the mail path never waits
	// on this limiter.
	if err := r.pace.Wait(ctx); err != nil {
		ulog.Warn("chat send skipped (pacing wait aborted)", logx.Err(err))
		st.Failures++
		return
	}

	octx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	messageID, err := r.deps.Chat.Send(octx, msg.chatText)
	cancel()
	if err != nil {
		ulog.Error("chat send failed", logx.Err(err))
		st.Failures++
		return
	}
	st.ChatSent++

	if err := r.deps.Ledger.Put(ctx, messageID, r.record(u, channel.Chat)); err != nil {
		ulog.Error("ledger write failed after chat send", logx.String("message_id", messageID), logx.Err(err))
		st.Failures++
		return
	}
	ulog.Info("chat reminder sent", logx.String("message_id", messageID))
}

func (r *Reconciler) retractChat(ctx context.Context, messageID string) error {
	octx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()
	err := r.deps.Chat.Retract(octx, messageID)
	if errors.Is(err, channel.ErrNotFound) {
		// Already gone: the goal state holds.
		return nil
	}
	return err
}

func (r *Reconciler) record(u directory.UserRecord, ch channel.Channel) ledger.Record {
	return ledger.Record{
		Identity:            u.Identity,
		Channel:             ch,
		ContactAddress:      u.ContactAddress,
		DisplayName:         u.DisplayName,
		SentAt:              r.now(),
		CredentialChangedAt: u.CredentialChangedAt,
	}
}
