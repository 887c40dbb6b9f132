package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/lnops/rebalance-orchestrator-go/model"
	"go.uber.org/multierr"
)

func DefaultConfig() *model.Config {
	return &model.Config{
		Daemon: model.DaemonConfig{
			Workers:                   1,
			SleepSeconds:              5,
			CycleDeadlineSeconds:      1800,
			ShuffleJobs:               true,
			ContextTimeoutDuration:    30,
			NotifyIntervalSeconds:     30,
			DailyCheckIntervalSeconds: 30,
		},
		Lndg: model.LndgConfig{
			BaseURL:  "http://localhost:8889",
			RetryMax: 4,
		},
		Los: model.LosConfig{
			BaseURL:     "https://localhost:8443",
			InsecureTLS: true,
		},
		Engine: model.EngineConfig{
			Binary:       "/home/admin/regolancer-orchestrator/regolancer",
			TemplateFile: "/home/admin/regolancer-orchestrator/config.template.json",
			StreamOutput: true,
			SuccessLog:   "/home/admin/regolancer-orchestrator/success-rebal.csv",
		},
		Escalation: model.EscalationConfig{
			InitialAmount: 50000,
			StepPct:       20,
			StepEvery:     10,
			MaxIncreases:  5,
		},
		Notifications: model.NotificationConfig{
			Local: true,
		},
		Report: model.ReportConfig{
			Trigger:        "23:59",
			Timezone:       "Local",
			TimeoutSeconds: 600,
		},
		State: model.StateConfig{
			Backend:    model.StateBackendFile,
			Dir:        "/home/admin/regolancer-orchestrator/state",
			SQLitePath: "/home/admin/regolancer-orchestrator/state.db",
		},
	}
}

// ReadConfig resolves configuration as defaults, then the optional YAML file,
// then environment variables.
func ReadConfig(filename string) (*model.Config, error) {
	return readConfig(filename, os.LookupEnv)
}

func readConfig(filename string, lookup func(string) (string, bool)) (*model.Config, error) {
	config := DefaultConfig()

	if filename != "" {
		bytes, err := os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		if err = yaml.Unmarshal(bytes, config); err != nil {
			return nil, fmt.Errorf("cannot parse %s: %w", filename, err)
		}
	}

	if err := applyEnv(config, lookup); err != nil {
		return nil, err
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

func applyEnv(config *model.Config, lookup func(string) (string, bool)) error {
	var errs error

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	integer64 := func(name string, dst *int64) {
		if v, ok := lookup(name); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(name); ok {
			*dst = splitList(v)
		}
	}

	integer("MAX_WORKERS", &config.Daemon.Workers)
	integer("SLEEP_SECONDS", &config.Daemon.SleepSeconds)
	integer("CYCLE_DEADLINE_SECONDS", &config.Daemon.CycleDeadlineSeconds)
	boolean("SHUFFLE_JOBS", &config.Daemon.ShuffleJobs)
	boolean("DRY_RUN", &config.Daemon.DryRun)
	boolean("DEBUG", &config.Daemon.Debug)
	integer("HTTP_TIMEOUT_SECONDS", &config.Daemon.ContextTimeoutDuration)
	integer("NOTIFY_INTERVAL_SECONDS", &config.Daemon.NotifyIntervalSeconds)
	integer("DAILY_CHECK_INTERVAL_SECONDS", &config.Daemon.DailyCheckIntervalSeconds)

	str("LNDG_BASE_URL", &config.Lndg.BaseURL)
	str("LNDG_USER", &config.Lndg.User)
	str("LNDG_PASS", &config.Lndg.Pass)
	list("LNDG_EXCLUDED_CHANNELS", &config.Lndg.ExcludedChannels)

	str("LOS_BASE_URL", &config.Los.BaseURL)
	boolean("LOS_INSECURE_TLS", &config.Los.InsecureTLS)

	str("REGOLANCER_BIN", &config.Engine.Binary)
	str("TEMPLATE_FILE", &config.Engine.TemplateFile)
	str("ENGINE_WORK_DIR", &config.Engine.WorkDir)
	boolean("STREAM_ENGINE_OUTPUT", &config.Engine.StreamOutput)
	str("SUCCESS_REBAL_FILE", &config.Engine.SuccessLog)

	integer64("AMOUNT_INITIAL", &config.Escalation.InitialAmount)
	integer64("AMOUNT_STEP_PCT", &config.Escalation.StepPct)
	integer64("AMOUNT_STEP_EVERY", &config.Escalation.StepEvery)
	integer64("AMOUNT_MAX_INCREASES", &config.Escalation.MaxIncreases)

	str("TELEGRAM_TOKEN", &config.Notifications.TelegramToken)
	str("TELEGRAM_CHAT_ID", &config.Notifications.TelegramChatID)
	boolean("NOTIFY_LOCAL", &config.Notifications.Local)
	boolean("NOTIFY_LNDG", &config.Notifications.Lndg)
	boolean("NOTIFY_LOS", &config.Notifications.Los)

	str("REPORT_CMD", &config.Report.Command)
	str("REPORT_TRIGGER", &config.Report.Trigger)
	str("REPORT_TZ", &config.Report.Timezone)
	integer("REPORT_TIMEOUT_SECONDS", &config.Report.TimeoutSeconds)

	str("STATE_BACKEND", &config.State.Backend)
	str("STATE_DIR", &config.State.Dir)
	str("STATE_DB", &config.State.SQLitePath)

	str("STATUS_ADDR", &config.Status.Addr)
	list("STATUS_ALLOWED_ORIGINS", &config.Status.AllowedOrigins)

	return errs
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateConfig(config *model.Config) error {
	return multierr.Combine(
		checkCredentials(config),
		checkDaemon(config.Daemon),
		checkEscalation(config.Escalation),
		checkReport(config.Report),
		checkState(config.State),
	)
}

func checkCredentials(config *model.Config) error {
	var errs error
	required := map[string]string{
		"LNDG_USER":        config.Lndg.User,
		"LNDG_PASS":        config.Lndg.Pass,
		"TELEGRAM_TOKEN":   config.Notifications.TelegramToken,
		"TELEGRAM_CHAT_ID": config.Notifications.TelegramChatID,
	}
	for _, name := range []string{"LNDG_USER", "LNDG_PASS", "TELEGRAM_TOKEN", "TELEGRAM_CHAT_ID"} {
		if required[name] == "" {
			errs = multierr.Append(errs, fmt.Errorf("missing required credential: %s", name))
		}
	}
	return errs
}

func checkDaemon(daemon model.DaemonConfig) error {
	var errs error
	if daemon.Workers < 1 {
		errs = multierr.Append(errs, fmt.Errorf("workers must be at least 1, got %d", daemon.Workers))
	}
	if daemon.SleepSeconds < 0 {
		errs = multierr.Append(errs, errors.New("sleep_seconds cannot be negative"))
	}
	if daemon.CycleDeadlineSeconds <= 0 {
		errs = multierr.Append(errs, errors.New("cycle_deadline_seconds must be positive"))
	}
	if daemon.NotifyIntervalSeconds <= 0 || daemon.DailyCheckIntervalSeconds <= 0 {
		errs = multierr.Append(errs, errors.New("notify and daily check intervals must be positive"))
	}
	return errs
}

func checkEscalation(esc model.EscalationConfig) error {
	var errs error
	if esc.InitialAmount <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("initial_amount must be positive, got %d", esc.InitialAmount))
	}
	if esc.StepPct < 0 {
		errs = multierr.Append(errs, fmt.Errorf("step_pct cannot be negative, got %d", esc.StepPct))
	}
	if esc.StepEvery < 1 {
		errs = multierr.Append(errs, fmt.Errorf("step_every must be at least 1, got %d", esc.StepEvery))
	}
	if esc.MaxIncreases < 0 {
		errs = multierr.Append(errs, fmt.Errorf("max_increases cannot be negative, got %d", esc.MaxIncreases))
	}
	return errs
}

func checkReport(report model.ReportConfig) error {
	if report.Command == "" {
		return nil
	}
	var errs error
	if _, err := ParseTrigger(report.Trigger); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := LoadLocation(report.Timezone); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("report timezone: %w", err))
	}
	return errs
}

func checkState(state model.StateConfig) error {
	switch state.Backend {
	case model.StateBackendFile:
		if state.Dir == "" {
			return errors.New("state dir not specified")
		}
	case model.StateBackendSQLite:
		if state.SQLitePath == "" {
			return errors.New("state sqlite path not specified")
		}
	default:
		return fmt.Errorf("unknown state backend: %q", state.Backend)
	}
	return nil
}

// ParseTrigger converts "HH:MM" to a minute of the day.
func ParseTrigger(trigger string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(trigger))
	if err != nil {
		return 0, fmt.Errorf("invalid report trigger %q, expected HH:MM", trigger)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
