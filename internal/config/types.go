package config

// Config is the full on-disk configuration.
//
// The file may be YAML or JSON (by extension). `${VAR}` references are
// expanded from the environment before decoding, so credentials can stay out
// of the file. Unknown keys are rejected to catch typos early.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "6h").
type Config struct {
	Directory  DirectoryConfig  `json:"directory"`
	SMTP       SMTPConfig       `json:"smtp"`
	Telegram   TelegramConfig   `json:"telegram"`
	Store      StoreConfig      `json:"store"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Escalation EscalationConfig `json:"escalation,omitempty"`
	Logging    LoggingConfig    `json:"logging"`
}

// DirectoryConfig points at the LDAP directory and defines the staleness policy.
type DirectoryConfig struct {
	URL          string `json:"url"`
	BindDN       string `json:"bind_dn"`
	BindPassword string `json:"bind_password"`
	BaseDN       string `json:"base_dn"`

	// IncludedGroups lists distinguished names; only accounts under one of
	// them are considered. Empty means the whole base scope.
	IncludedGroups []string `json:"included_groups,omitempty"`

	// MaxPasswordAgeDays is the staleness threshold.
	MaxPasswordAgeDays int `json:"max_password_age_days"`

	// MailDomain is appended to the login when the directory entry has no
	// mail attribute (e.g. "@example.org").
	MailDomain string `json:"mail_domain,omitempty"`

	Timeout string `json:"timeout,omitempty"` // default 15s
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
	Timeout  string `json:"timeout,omitempty"` // default 20s
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`

	// EscalationChatID receives escalation notices. 0 falls back to ChatID.
	EscalationChatID int64 `json:"escalation_chat_id,omitempty"`

	// Pacing is the quiescent interval between consecutive chat sends
	// within one reconciliation pass (provider rate limits). Default 3s.
	Pacing  string `json:"pacing,omitempty"`
	Timeout string `json:"timeout,omitempty"` // per-call, default 10s
}

// StoreConfig selects the ledger/counter backend.
//
// Driver values:
//   - "redis": shared cache store (addr/password/db)
//   - "sqlite": embedded database file (path)
//   - "memory": process-local, for development and tests
type StoreConfig struct {
	Driver      string `json:"driver"`
	Addr        string `json:"addr,omitempty"`
	Password    string `json:"password,omitempty"`
	DB          int    `json:"db,omitempty"`
	Path        string `json:"path,omitempty"`
	Namespace   string `json:"namespace,omitempty"`    // key prefix, default "pwnotify"
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	DialTimeout string `json:"dial_timeout,omitempty"` // redis, default 5s
	OpTimeout   string `json:"op_timeout,omitempty"`   // per-operation bound, default 5s
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Interval between reconciliation passes. Passes are single-flight: a
	// due trigger waits for the previous pass to finish.
	Interval string `json:"interval"`

	// Timezone (IANA) used for trigger scheduling and timestamp rendering.
	Timezone string `json:"timezone,omitempty"`
}

type EscalationConfig struct {
	// Threshold is the number of plain mail reminders after which a dispatch
	// escalates. Default 5.
	Threshold int `json:"threshold,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
