package model

import (
	"time"
)

type Config struct {
	Daemon        DaemonConfig       `yaml:"daemon"`
	Lndg          LndgConfig         `yaml:"lndg"`
	Los           LosConfig          `yaml:"los"`
	Engine        EngineConfig       `yaml:"engine"`
	Escalation    EscalationConfig   `yaml:"escalation"`
	Notifications NotificationConfig `yaml:"notifications"`
	Report        ReportConfig       `yaml:"report"`
	State         StateConfig        `yaml:"state"`
	Status        StatusConfig       `yaml:"status"`
}

type DaemonConfig struct {
	Workers                   int  `yaml:"workers"`
	SleepSeconds              int  `yaml:"sleep_seconds"`
	CycleDeadlineSeconds      int  `yaml:"cycle_deadline_seconds"`
	ShuffleJobs               bool `yaml:"shuffle_jobs"`
	DryRun                    bool `yaml:"dry_run"`
	Debug                     bool `yaml:"debug"`
	ContextTimeoutDuration    int  `yaml:"context_timeout_duration"`
	NotifyIntervalSeconds     int  `yaml:"notify_interval_seconds"`
	DailyCheckIntervalSeconds int  `yaml:"daily_check_interval_seconds"`
}

type LndgConfig struct {
	BaseURL          string   `yaml:"base_url"`
	User             string   `yaml:"user"`
	Pass             string   `yaml:"pass"`
	ExcludedChannels []string `yaml:"excluded_channels"`
	RetryMax         int      `yaml:"retry_max"`
}

type LosConfig struct {
	BaseURL     string `yaml:"base_url"`
	InsecureTLS bool   `yaml:"insecure_tls"`
}

type EngineConfig struct {
	Binary       string `yaml:"binary"`
	TemplateFile string `yaml:"template_file"`
	WorkDir      string `yaml:"work_dir"` // Optional, defaults to os.TempDir()
	StreamOutput bool   `yaml:"stream_output"`
	SuccessLog   string `yaml:"success_log"`
}

type EscalationConfig struct {
	InitialAmount int64 `yaml:"initial_amount"`
	StepPct       int64 `yaml:"step_pct"`
	StepEvery     int64 `yaml:"step_every"`
	MaxIncreases  int64 `yaml:"max_increases"`
}

type NotificationConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
	Local          bool   `yaml:"local"`
	Lndg           bool   `yaml:"lndg"`
	Los            bool   `yaml:"los"`
}

type ReportConfig struct {
	Command        string `yaml:"command"` // Empty disables the daily gate
	Trigger        string `yaml:"trigger"` // HH:MM, local to Timezone
	Timezone       string `yaml:"timezone"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type StateConfig struct {
	Backend    string `yaml:"backend"`
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

type StatusConfig struct {
	Addr           string   `yaml:"addr"` // Empty disables the status server
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func (d DaemonConfig) Sleep() time.Duration {
	return time.Duration(d.SleepSeconds) * time.Second
}

func (d DaemonConfig) CycleDeadline() time.Duration {
	return time.Duration(d.CycleDeadlineSeconds) * time.Second
}

func (r ReportConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

const (
	StateBackendFile   = "file"
	StateBackendSQLite = "sqlite"
)
