package dispatch

import (
	"fmt"
	"strings"

	"pwnotify/internal/directory"
)

type content struct {
	subject  string
	htmlBody string
	chatText string
}

// compose builds the per-user message content from the latest snapshot data.
// Formatting is deliberately plain; anything fancier belongs to the mail
// template of the receiving organization, not this daemon.
func (r *Reconciler) compose(u directory.UserRecord, count int64, escalate bool) content {
	ageDays := int(r.now().Sub(u.CredentialChangedAt).Hours() / 24)
	changed := u.CredentialChangedAt.In(r.cfg.Location).Format("2006-01-02")
	name := u.DisplayName
	if name == "" {
		name = u.Identity
	}

	var c content
	if escalate {
		c.subject = fmt.Sprintf("ACTION REQUIRED: password unchanged for %d days", ageDays)
	} else {
		c.subject = "Password change required"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<p>Dear %s,</p>", htmlEscape(name))
	fmt.Fprintf(&b, "<p>Your password was last changed on %s (%d days ago). ", changed, ageDays)
	fmt.Fprintf(&b, "Policy requires a change every %d days.</p>", r.cfg.MaxPasswordAgeDays)
	if escalate {
		fmt.Fprintf(&b, "<p><b>You have received %d reminders. ", count)
		b.WriteString("This notice has been forwarded to the IT department and your account may be subject to a forced reset.</b></p>")
	} else {
		b.WriteString("<p>Please change your password at your earliest convenience.</p>")
	}
	b.WriteString("<p>IT department</p>")
	c.htmlBody = b.String()

	prefix := "⚠️"
	if escalate {
		prefix = "🚨"
	}
	c.chatText = fmt.Sprintf("%s %s (%s): password last changed %s, %d days ago (limit %d days)",
		prefix, name, u.Identity, changed, ageDays, r.cfg.MaxPasswordAgeDays)
	if escalate {
		c.chatText += fmt.Sprintf(", escalated after %d reminders", count)
	}
	return c
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func htmlEscape(s string) string { return htmlEscaper.Replace(s) }
