package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks everything the process cannot start without.
// A failure here is fatal at startup: the daemon refuses to run half-configured.
func (c *Config) Validate() error {
	var missing []string
	req := func(path, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, path)
		}
	}

	req("directory.url", c.Directory.URL)
	req("directory.bind_dn", c.Directory.BindDN)
	req("directory.bind_password", c.Directory.BindPassword)
	req("directory.base_dn", c.Directory.BaseDN)
	req("smtp.host", c.SMTP.Host)
	req("smtp.from", c.SMTP.From)
	req("telegram.token", c.Telegram.Token)
	req("store.driver", c.Store.Driver)
	req("scheduler.interval", c.Scheduler.Interval)
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	if c.Directory.MaxPasswordAgeDays <= 0 {
		return fmt.Errorf("directory.max_password_age_days must be > 0")
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port must be in 1..65535")
	}
	if c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required")
	}
	if c.Escalation.Threshold < 0 {
		return fmt.Errorf("escalation.threshold must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "redis":
		if strings.TrimSpace(c.Store.Addr) == "" {
			return fmt.Errorf("store.addr is required for the redis driver")
		}
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}

	for _, f := range []struct{ path, raw string }{
		{"directory.timeout", c.Directory.Timeout},
		{"smtp.timeout", c.SMTP.Timeout},
		{"telegram.pacing", c.Telegram.Pacing},
		{"telegram.timeout", c.Telegram.Timeout},
		{"store.busy_timeout", c.Store.BusyTimeout},
		{"store.dial_timeout", c.Store.DialTimeout},
		{"store.op_timeout", c.Store.OpTimeout},
		{"scheduler.interval", c.Scheduler.Interval},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if d, _ := ParseDurationField("scheduler.interval", c.Scheduler.Interval); d <= 0 {
		return fmt.Errorf("scheduler.interval must be > 0")
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
