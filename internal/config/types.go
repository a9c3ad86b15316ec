package config

import "time"

// Config is the top-level prwatch configuration.
type Config struct {
	Forge         ForgeConfig         `json:"forge"`
	Monitor       MonitorConfig       `json:"monitor"`
	EventLog      EventLogConfig      `json:"eventlog"`
	Dashboard     DashboardConfig     `json:"dashboard"`
	Notifications NotificationsConfig `json:"notifications"`
}

// ForgeConfig holds hosting-service access settings.
type ForgeConfig struct {
	// Owner and Repo are the default repository coordinates used when a PR
	// is given as a bare number.
	Owner string `json:"owner,omitempty"`
	Repo  string `json:"repo,omitempty"`
	Token string `json:"token,omitempty"`
}

// MonitorConfig holds the monitor loop tunables. Zero values fall back to
// the package defaults, so a partial config file stays valid.
type MonitorConfig struct {
	PollInterval          string `json:"poll_interval"`
	RebaseRecheckDelay    string `json:"rebase_recheck_delay"`
	CopilotPendingTimeout string `json:"copilot_pending_timeout"`
	MaxCopilotRetries     int    `json:"max_copilot_retries"`
	MaxRetryWaitPolls     int    `json:"max_retry_wait_polls"`
	MaxRecreateAttempts   int    `json:"max_recreate_attempts"`
	MaxRebaseAttempts     int    `json:"max_rebase_attempts"`
	// RateFloor is the advisory minimum of remaining core API calls; below
	// it the loop stretches its waits.
	RateFloor int `json:"rate_floor"`
}

// ParsePollInterval returns the poll interval as a time.Duration.
func (m MonitorConfig) ParsePollInterval() time.Duration {
	d, err := time.ParseDuration(m.PollInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ParseRebaseRecheckDelay returns the post-rebase re-check delay.
func (m MonitorConfig) ParseRebaseRecheckDelay() time.Duration {
	d, err := time.ParseDuration(m.RebaseRecheckDelay)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ParseCopilotPendingTimeout returns how long an automated reviewer may sit
// pending before recreation is considered.
func (m MonitorConfig) ParseCopilotPendingTimeout() time.Duration {
	d, err := time.ParseDuration(m.CopilotPendingTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// EventLogConfig holds event persistence settings.
type EventLogConfig struct {
	// Path is the SQLite database file. Empty means
	// $XDG_DATA_HOME/prwatch/events.db.
	Path string `json:"path,omitempty"`
}

// DashboardConfig holds the live event dashboard settings.
type DashboardConfig struct {
	Port int `json:"port"`
}

// NotificationsConfig holds webhook notification settings.
type NotificationsConfig struct {
	WebhookURL string   `json:"webhook_url,omitempty"`
	Events     []string `json:"events,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults. The monitor bounds
// mirror the constants in internal/monitor.
func DefaultConfig() Config {
	return Config{
		Monitor: MonitorConfig{
			PollInterval:          "30s",
			RebaseRecheckDelay:    "30s",
			CopilotPendingTimeout: "5m",
			MaxCopilotRetries:     3,
			MaxRetryWaitPolls:     4,
			MaxRecreateAttempts:   1,
			MaxRebaseAttempts:     3,
			RateFloor:             50,
		},
		Dashboard: DashboardConfig{
			Port: 4810,
		},
	}
}
