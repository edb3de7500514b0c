package dispatch

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pwnotify/internal/directory"
	logx "pwnotify/pkg/logx"
)

func composeReconciler(now time.Time) *Reconciler {
	r := New(Config{MaxPasswordAgeDays: 180, Location: time.UTC}, Deps{}, logx.Nop())
	r.now = func() time.Time { return now }
	return r
}

func TestComposePlain(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	r := composeReconciler(now)

	c := r.compose(directory.UserRecord{
		Identity:            "alice",
		DisplayName:         "Alice Liddell",
		ContactAddress:      "alice@example.org",
		CredentialChangedAt: now.Add(-200 * 24 * time.Hour),
	}, 2, false)

	assert.Equal(t, "Password change required", c.subject)
	assert.Contains(t, c.htmlBody, "Alice Liddell")
	assert.Contains(t, c.htmlBody, "200 days ago")
	assert.Contains(t, c.htmlBody, "every 180 days")
	assert.NotContains(t, c.htmlBody, "forced reset")
	assert.True(t, strings.HasPrefix(c.chatText, "⚠️"))
	assert.Contains(t, c.chatText, "alice")
}

func TestComposeEscalated(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	r := composeReconciler(now)

	c := r.compose(directory.UserRecord{
		Identity:            "bob",
		CredentialChangedAt: now.Add(-365 * 24 * time.Hour),
	}, 5, true)

	assert.Contains(t, c.subject, "ACTION REQUIRED")
	assert.Contains(t, c.subject, "365 days")
	assert.Contains(t, c.htmlBody, "5 reminders")
	assert.True(t, strings.HasPrefix(c.chatText, "🚨"))
	assert.Contains(t, c.chatText, "escalated after 5 reminders")
}

func TestComposeFallsBackToIdentity(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	r := composeReconciler(now)

	c := r.compose(directory.UserRecord{
		Identity:            "svc-backup",
		CredentialChangedAt: now.Add(-181 * 24 * time.Hour),
	}, 0, false)
	assert.Contains(t, c.htmlBody, "svc-backup")
}

func TestComposeEscapesHTML(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	r := composeReconciler(now)

	c := r.compose(directory.UserRecord{
		Identity:            "eve",
		DisplayName:         `Eve <script>"x"</script> & Co`,
		CredentialChangedAt: now.Add(-190 * 24 * time.Hour),
	}, 0, false)
	assert.NotContains(t, c.htmlBody, "<script>")
	assert.Contains(t, c.htmlBody, "&lt;script&gt;")
	assert.Contains(t, c.htmlBody, "&amp; Co")
}
