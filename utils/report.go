package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

const reportTailBytes = 2048

// ReportRunner runs the external daily report job to completion.
type ReportRunner interface {
	Run(ctx context.Context) error
}

type CommandReportRunner struct {
	log  *zap.Logger
	args []string
}

func NewCommandReportRunner(log *zap.Logger, command string) *CommandReportRunner {
	return &CommandReportRunner{log: log, args: strings.Fields(command)}
}

func (r *CommandReportRunner) Run(ctx context.Context) error {
	if len(r.args) == 0 {
		return errors.New("report command not configured")
	}

	cmd := exec.CommandContext(ctx, r.args[0], r.args[1:]...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	r.log.Info("report job finished",
		zap.Strings("command", r.args),
		zap.Int("output_bytes", output.Len()),
		zap.Error(err),
	)
	if err != nil {
		return fmt.Errorf("report job failed: %w: %s", err, tail(output.String(), reportTailBytes))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
