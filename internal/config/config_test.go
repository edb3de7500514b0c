package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
directory:
  url: ldaps://dc1.example.org:636
  bind_dn: CN=svc-pwnotify,OU=Service,DC=example,DC=org
  bind_password: ${LDAP_PASSWORD}
  base_dn: DC=example,DC=org
  included_groups:
    - CN=Staff,OU=Groups,DC=example,DC=org
  max_password_age_days: 180
  mail_domain: "@example.org"
smtp:
  host: mail.example.org
  port: 587
  username: pwnotify
  password: ${SMTP_PASSWORD}
  from: it@example.org
telegram:
  token: ${TELEGRAM_TOKEN}
  chat_id: -1001234567890
  pacing: 3s
store:
  driver: redis
  addr: redis.example.org:6379
scheduler:
  enabled: true
  interval: 6h
  timezone: Europe/Berlin
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
`

func writeConfig(t *testing.T, body string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return NewManager(path)
}

func TestParseExpandsEnv(t *testing.T) {
	t.Setenv("LDAP_PASSWORD", "s3cret")
	t.Setenv("SMTP_PASSWORD", "mailpass")
	t.Setenv("TELEGRAM_TOKEN", "123:abc")

	cfg, err := writeConfig(t, validYAML).Parse()
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Directory.BindPassword)
	assert.Equal(t, "mailpass", cfg.SMTP.Password)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, int64(-1001234567890), cfg.Telegram.ChatID)
	assert.Equal(t, 180, cfg.Directory.MaxPasswordAgeDays)
	assert.Equal(t, []string{"CN=Staff,OU=Groups,DC=example,DC=org"}, cfg.Directory.IncludedGroups)

	require.NoError(t, cfg.Validate())
}

func TestParseUnsetEnvExpandsEmpty(t *testing.T) {
	t.Setenv("SMTP_PASSWORD", "x")
	t.Setenv("TELEGRAM_TOKEN", "x")
	t.Setenv("LDAP_PASSWORD", "")
	os.Unsetenv("LDAP_PASSWORD")

	cfg, err := writeConfig(t, validYAML).Parse()
	require.NoError(t, err)
	assert.Empty(t, cfg.Directory.BindPassword)

	err = cfg.Validate()
	require.Error(t, err, "empty expansion must be caught by validation")
	assert.Contains(t, err.Error(), "directory.bind_password")
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	m := writeConfig(t, validYAML+"\nsurprise: true\n")
	_, err := m.Parse()
	require.Error(t, err)
}

func TestLoadCommitsAndGetReturns(t *testing.T) {
	t.Setenv("LDAP_PASSWORD", "x")
	t.Setenv("SMTP_PASSWORD", "x")
	t.Setenv("TELEGRAM_TOKEN", "x")

	m := writeConfig(t, validYAML)
	assert.Nil(t, m.Get())

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())
}

func TestValidate(t *testing.T) {
	t.Setenv("LDAP_PASSWORD", "x")
	t.Setenv("SMTP_PASSWORD", "x")
	t.Setenv("TELEGRAM_TOKEN", "x")

	base := func(t *testing.T) *Config {
		cfg, err := writeConfig(t, validYAML).Parse()
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing url", func(c *Config) { c.Directory.URL = "" }, "directory.url"},
		{"missing from", func(c *Config) { c.SMTP.From = " " }, "smtp.from"},
		{"zero chat id", func(c *Config) { c.Telegram.ChatID = 0 }, "telegram.chat_id"},
		{"age not positive", func(c *Config) { c.Directory.MaxPasswordAgeDays = 0 }, "max_password_age_days"},
		{"bad port", func(c *Config) { c.SMTP.Port = 70000 }, "smtp.port"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "etcd" }, "unknown driver"},
		{"redis without addr", func(c *Config) { c.Store.Addr = "" }, "store.addr"},
		{"sqlite without path", func(c *Config) { c.Store.Driver = "sqlite" }, "store.path"},
		{"memory needs nothing", func(c *Config) { c.Store.Driver = "memory"; c.Store.Addr = "" }, ""},
		{"bad duration", func(c *Config) { c.Telegram.Pacing = "three seconds" }, "telegram.pacing"},
		{"zero interval", func(c *Config) { c.Scheduler.Interval = "0s" }, "scheduler.interval"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base(t)
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestParseJSONConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
  "directory": {"url": "ldap://dc", "bind_dn": "cn=x", "bind_password": "p", "base_dn": "dc=x", "max_password_age_days": 90},
  "smtp": {"host": "mail", "port": 25, "from": "it@x"},
  "telegram": {"token": "t", "chat_id": 1},
  "store": {"driver": "memory"},
  "scheduler": {"enabled": false, "interval": "1h"},
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}}
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := NewManager(path).Parse()
	require.NoError(t, err)
	assert.Equal(t, "ldap://dc", cfg.Directory.URL)
	require.NoError(t, cfg.Validate())
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"store": {"driver": "memory"}} {"x": 1}`), 0o600))
	_, err := NewManager(path).Parse()
	require.Error(t, err)
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", " 90s ")
	require.NoError(t, err)
	assert.Equal(t, "1m30s", d.String())

	_, err = ParseDurationField("x", "-1s")
	require.Error(t, err)

	d, err = ParseDurationField("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)
}
