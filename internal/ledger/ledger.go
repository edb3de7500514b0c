// Package ledger persists the in-flight notification index and the per-user
// escalation counter on top of a TTL-capable key-value store.
//
// The ledger is what makes re-sending, replacing, and retracting chat messages
// idempotent across process restarts: every successful send is recorded under
// its channel message identifier, and every retract removes the record.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pwnotify/internal/channel"
	"pwnotify/internal/store"
)

const (
	notifPrefix = "notif:"
	escalPrefix = "escal:"

	// RetentionTTL bounds the lifetime of every record in the backing store.
	// It is a safety net against entries orphaned by a crash between a channel
	// call and the matching ledger write, not a substitute for explicit removal.
	RetentionTTL = 30 * 24 * time.Hour
)

// Record is one live notification, keyed in the store by its channel message
// identifier.
type Record struct {
	Identity       string          `json:"identity"`
	Channel        channel.Channel `json:"channel"`
	ContactAddress string          `json:"contact_address"`
	DisplayName    string          `json:"display_name,omitempty"`
	SentAt         time.Time       `json:"sent_at"`

	// CredentialChangedAt is the directory timestamp observed when this
	// notification was created, so a later pass can tell whether the message
	// content is stale.
	CredentialChangedAt time.Time `json:"credential_changed_at"`
}

// Entry pairs a record with its store key.
type Entry struct {
	MessageID string
	Record    Record
}

// Ledger is the durable side-index of open notifications.
// The dispatch policy is its sole writer and deleter.
type Ledger struct {
	kv store.KV
}

func NewLedger(kv store.KV) *Ledger {
	return &Ledger{kv: kv}
}

// Put stores (or overwrites) the record under the channel message identifier.
func (l *Ledger) Put(ctx context.Context, messageID string, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger marshal: %w", err)
	}
	return l.kv.Put(ctx, notifPrefix+messageID, b, RetentionTTL)
}

// Remove deletes the record. Removing an absent key is not an error.
func (l *Ledger) Remove(ctx context.Context, messageID string) error {
	return l.kv.Delete(ctx, notifPrefix+messageID)
}

// All returns every live record. Volume is bounded by active policy
// violations, so a full scan per pass is fine.
func (l *Ledger) All(ctx context.Context) ([]Entry, error) {
	raw, err := l.kv.Scan(ctx, notifPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for k, v := range raw {
		var rec Record
		if err := json.Unmarshal(v, &rec); err != nil {
			// Skip undecodable entries; TTL will reap them.
			continue
		}
		out = append(out, Entry{MessageID: k[len(notifPrefix):], Record: rec})
	}
	return out, nil
}

// FindByIdentity returns the open records owned by one identity.
func (l *Ledger) FindByIdentity(ctx context.Context, identity string) ([]Entry, error) {
	all, err := l.All(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if e.Record.Identity == identity {
			out = append(out, e)
		}
	}
	return out, nil
}
