// Package directory implements the snapshot provider: one call returns the
// current set of accounts whose password age exceeds the policy threshold.
//
// Each call dials, binds, searches, and unbinds; no connection outlives a
// reconciliation pass. Directory failures are transient: they abort the
// current pass only and are retried on the next trigger.
package directory

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	logx "pwnotify/pkg/logx"
)

// Attributes we actually read; everything else in the schema is out of scope.
const (
	attrLogin       = "sAMAccountName"
	attrMail        = "mail"
	attrDisplayName = "displayName"
	attrPwdLastSet  = "pwdLastSet"
)

// accountDisabled is the userAccountControl bit excluded by the search filter
// (matching-rule-in-chain OID 1.2.840.113556.1.4.803 = bitwise AND).
const accountDisabledBit = 2

type Config struct {
	URL          string
	BindDN       string
	BindPassword string
	BaseDN       string

	// IncludedGroups restricts the search to members of these group DNs.
	IncludedGroups []string

	// MaxPasswordAge is the staleness threshold.
	MaxPasswordAge time.Duration

	// MailDomain (e.g. "@example.org") builds a fallback contact address from
	// the login when the entry has no mail attribute.
	MailDomain string

	Timeout time.Duration
}

// UserRecord is one stale account from the current snapshot.
type UserRecord struct {
	Identity            string
	ContactAddress      string
	DisplayName         string
	CredentialChangedAt time.Time
}

type Client struct {
	cfg Config
	log logx.Logger

	now func() time.Time
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, log: log, now: time.Now}
}

// StaleUsers returns every enabled account in scope whose password is older
// than the threshold. Per-entry parse problems are logged and skipped; only
// connection, bind, and search errors fail the call.
func (c *Client) StaleUsers(ctx context.Context) ([]UserRecord, error) {
	conn, err := ldap.DialURL(c.cfg.URL, ldap.DialWithDialer(&net.Dialer{Timeout: c.cfg.Timeout}))
	if err != nil {
		return nil, fmt.Errorf("directory dial %s: %w", c.cfg.URL, err)
	}
	defer conn.Close()
	conn.SetTimeout(c.cfg.Timeout)

	if err := conn.Bind(c.cfg.BindDN, c.cfg.BindPassword); err != nil {
		return nil, fmt.Errorf("directory bind: %w", err)
	}

	req := ldap.NewSearchRequest(
		c.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		c.searchFilter(),
		[]string{attrLogin, attrMail, attrDisplayName, attrPwdLastSet},
		nil,
	)
	res, err := conn.SearchWithPaging(req, 500)
	if err != nil {
		return nil, fmt.Errorf("directory search: %w", err)
	}

	cutoff := c.now().Add(-c.cfg.MaxPasswordAge)
	seen := map[string]int{}
	users := make([]UserRecord, 0, len(res.Entries))

	for _, e := range res.Entries {
		login := e.GetAttributeValue(attrLogin)
		if login == "" {
			c.log.Warn("directory entry without login skipped", logx.String("dn", e.DN))
			continue
		}

		raw := e.GetAttributeValue(attrPwdLastSet)
		ft, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.log.Warn("unparseable pwdLastSet skipped",
				logx.String("identity", login), logx.String("raw", raw))
			continue
		}
		// Zero means pwdLastSet=0: the directory already forces a change at
		// next logon, so there is nothing left to remind the user about.
		changedAt := filetimeToTime(ft)
		if changedAt.IsZero() || changedAt.After(cutoff) {
			continue
		}

		addr := e.GetAttributeValue(attrMail)
		if addr == "" {
			addr = login + c.cfg.MailDomain
		}

		u := UserRecord{
			Identity:            login,
			ContactAddress:      addr,
			DisplayName:         e.GetAttributeValue(attrDisplayName),
			CredentialChangedAt: changedAt,
		}
		// Identity is unique within one snapshot: last entry wins.
		if i, dup := seen[login]; dup {
			c.log.Warn("duplicate identity in snapshot; keeping last entry",
				logx.String("identity", login))
			users[i] = u
			continue
		}
		seen[login] = len(users)
		users = append(users, u)
	}

	c.log.Info("directory snapshot complete",
		logx.Int("entries", len(res.Entries)), logx.Int("stale", len(users)))
	return users, nil
}

// searchFilter builds the AD filter: enabled person accounts, optionally
// restricted to the configured groups.
func (c *Client) searchFilter() string {
	var b strings.Builder
	b.WriteString("(&(objectCategory=person)(objectClass=user)")
	fmt.Fprintf(&b, "(!(userAccountControl:1.2.840.113556.1.4.803:=%d))", accountDisabledBit)
	if len(c.cfg.IncludedGroups) > 0 {
		b.WriteString("(|")
		for _, g := range c.cfg.IncludedGroups {
			fmt.Fprintf(&b, "(memberOf=%s)", ldap.EscapeFilter(g))
		}
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}
