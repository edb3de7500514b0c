package directory

import (
	"strings"
	"testing"
	"time"

	logx "pwnotify/pkg/logx"
)

func TestFiletimeToTime(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		ft   int64
		want time.Time
	}{
		{"zero means never set", 0, time.Time{}},
		{"negative is invalid", -1, time.Time{}},
		{"epoch plus one tick", 1, time.Date(1601, 1, 1, 0, 0, 0, 100, time.UTC)},
		// Well-known constant: the Unix epoch expressed as FILETIME.
		{"unix epoch", 116444736000000000, time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"modern timestamp", 133505280000000000, time.Date(2024, 1, 24, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := filetimeToTime(tc.ft)
			if !got.Equal(tc.want) {
				t.Fatalf("filetimeToTime(%d) = %v, want %v", tc.ft, got, tc.want)
			}
		})
	}
}

func TestFiletimeRoundTrip(t *testing.T) {
	t.Parallel()
	want := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	ft := want.Sub(filetimeEpoch).Nanoseconds() / 100
	if got := filetimeToTime(ft); !got.Equal(want) {
		t.Fatalf("round trip: got %v, want %v", got, want)
	}
}

func TestSearchFilterNoGroups(t *testing.T) {
	t.Parallel()
	c := New(Config{}, logx.Nop())
	got := c.searchFilter()
	want := "(&(objectCategory=person)(objectClass=user)(!(userAccountControl:1.2.840.113556.1.4.803:=2)))"
	if got != want {
		t.Fatalf("filter = %q, want %q", got, want)
	}
}

func TestSearchFilterWithGroups(t *testing.T) {
	t.Parallel()
	c := New(Config{IncludedGroups: []string{
		"CN=Staff,OU=Groups,DC=example,DC=org",
		"CN=Ops (2nd line),OU=Groups,DC=example,DC=org",
	}}, logx.Nop())
	got := c.searchFilter()

	if !strings.Contains(got, "(|(memberOf=") {
		t.Fatalf("group disjunction missing: %q", got)
	}
	if !strings.Contains(got, "memberOf=CN=Staff,OU=Groups,DC=example,DC=org") {
		t.Fatalf("first group missing: %q", got)
	}
	// Parentheses in a DN must be escaped so they cannot break the filter.
	if !strings.Contains(got, `\282nd line\29`) {
		t.Fatalf("DN not escaped: %q", got)
	}
	if strings.Contains(got, "(2nd line)") {
		t.Fatalf("raw parentheses leaked into filter: %q", got)
	}
}
