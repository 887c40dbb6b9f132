package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lnops/rebalance-orchestrator-go/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func credentials() map[string]string {
	return map[string]string{
		"LNDG_USER":        "lndg-admin",
		"LNDG_PASS":        "secret",
		"TELEGRAM_TOKEN":   "123:abc",
		"TELEGRAM_CHAT_ID": "42",
	}
}

func TestReadConfigDefaults(t *testing.T) {
	config, err := readConfig("", envLookup(credentials()))
	require.NoError(t, err)

	assert.Equal(t, 1, config.Daemon.Workers)
	assert.Equal(t, 1800, config.Daemon.CycleDeadlineSeconds)
	assert.Equal(t, model.EscalationConfig{InitialAmount: 50000, StepPct: 20, StepEvery: 10, MaxIncreases: 5}, config.Escalation)
	assert.Equal(t, "lndg-admin", config.Lndg.User)
	assert.Equal(t, model.StateBackendFile, config.State.Backend)
	assert.True(t, config.Notifications.Local)
}

func TestReadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
daemon:
  workers: 3
  sleep_seconds: 10
  dry_run: true
lndg:
  base_url: http://lndg.local:8889
  excluded_channels: ["111x1x0"]
escalation:
  initial_amount: 10000
  step_pct: 50
  step_every: 5
  max_increases: 2
report:
  command: /usr/local/bin/report.sh
  trigger: "22:30"
  timezone: UTC
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	env := credentials()
	env["MAX_WORKERS"] = "4"
	env["NOTIFY_LNDG"] = "true"
	env["LNDG_EXCLUDED_CHANNELS"] = "222x2x0, 333x3x0,"

	config, err := readConfig(path, envLookup(env))
	require.NoError(t, err)

	assert.Equal(t, 4, config.Daemon.Workers, "environment wins over file")
	assert.Equal(t, 10, config.Daemon.SleepSeconds)
	assert.True(t, config.Daemon.DryRun)
	assert.Equal(t, "http://lndg.local:8889", config.Lndg.BaseURL)
	assert.Equal(t, []string{"222x2x0", "333x3x0"}, config.Lndg.ExcludedChannels)
	assert.Equal(t, int64(10000), config.Escalation.InitialAmount)
	assert.Equal(t, "22:30", config.Report.Trigger)
	assert.True(t, config.Notifications.Lndg)
	assert.True(t, config.Daemon.ShuffleJobs, "unset keys keep defaults")
}

func TestReadConfigErrors(t *testing.T) {
	tests := []struct {
		name          string
		noCredentials bool
		env           map[string]string
		expected      []string
	}{
		{
			name:          "missing credentials are all reported",
			noCredentials: true,
			env:           map[string]string{"LNDG_USER": "u"},
			expected: []string{
				"missing required credential: LNDG_PASS",
				"missing required credential: TELEGRAM_TOKEN",
				"missing required credential: TELEGRAM_CHAT_ID",
			},
		},
		{
			name:     "malformed numbers",
			env:      map[string]string{"MAX_WORKERS": "many", "DRY_RUN": "perhaps"},
			expected: []string{"MAX_WORKERS", "DRY_RUN"},
		},
		{
			name:     "invalid values",
			env:      map[string]string{"MAX_WORKERS": "0", "AMOUNT_STEP_EVERY": "0", "STATE_BACKEND": "redis"},
			expected: []string{"workers must be at least 1", "step_every must be at least 1", "unknown state backend"},
		},
		{
			name:     "bad trigger with report enabled",
			env:      map[string]string{"REPORT_CMD": "report.sh", "REPORT_TRIGGER": "25:99"},
			expected: []string{"invalid report trigger"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := credentials()
			if tc.noCredentials {
				env = map[string]string{}
			}
			for k, v := range tc.env {
				env[k] = v
			}

			_, err := readConfig("", envLookup(env))
			require.Error(t, err)
			for _, fragment := range tc.expected {
				assert.Contains(t, err.Error(), fragment)
			}
		})
	}
}

func TestReadConfigMissingFile(t *testing.T) {
	_, err := readConfig(filepath.Join(t.TempDir(), "absent.yaml"), envLookup(credentials()))
	assert.Error(t, err)
}

func TestParseTrigger(t *testing.T) {
	tests := []struct {
		trigger  string
		expected int
		wantErr  bool
	}{
		{trigger: "23:59", expected: 23*60 + 59},
		{trigger: "00:00", expected: 0},
		{trigger: " 07:05 ", expected: 7*60 + 5},
		{trigger: "7pm", wantErr: true},
		{trigger: "24:00", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.trigger, func(t *testing.T) {
			minute, err := ParseTrigger(tc.trigger)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, minute)
		})
	}
}
