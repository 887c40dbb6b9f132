package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lnops/rebalance-orchestrator-go/model"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
)

const (
	outputTailLines = 20
	maxLineBytes    = 1 << 20
)

// Dispatcher runs one job. The returned outcome only says whether the engine
// ran; whether liquidity moved is learned later from the success streams.
type Dispatcher interface {
	Dispatch(ctx context.Context, workerID int, job model.RebalanceJob) model.DispatchOutcome
}

type EngineDispatcher struct {
	log    *zap.Logger
	config model.EngineConfig
	dryRun bool
}

func NewEngineDispatcher(log *zap.Logger, config model.EngineConfig, dryRun bool) *EngineDispatcher {
	return &EngineDispatcher{log: log, config: config, dryRun: dryRun}
}

// LoadTemplate reads the engine configuration template. The template is
// shared and never written; every job gets its own copy.
func (d *EngineDispatcher) LoadTemplate() (map[string]interface{}, error) {
	data, err := os.ReadFile(d.config.TemplateFile)
	if err != nil {
		return nil, fmt.Errorf("cannot read engine template: %w", err)
	}
	template := map[string]interface{}{}
	if err := sonnet.Unmarshal(data, &template); err != nil {
		return nil, fmt.Errorf("cannot parse engine template %s: %w", d.config.TemplateFile, err)
	}
	return template, nil
}

// BuildEngineConfig overlays the job's endpoints, bounds and amount onto a
// copy of the template.
func BuildEngineConfig(template map[string]interface{}, job model.RebalanceJob) map[string]interface{} {
	cfg := make(map[string]interface{}, len(template)+5)
	for k, v := range template {
		cfg[k] = v
	}
	cfg["from"] = []string{job.Source.Pubkey}
	cfg["to"] = []string{job.Target.Pubkey}
	cfg["pfrom"] = job.PFrom
	cfg["pto"] = job.PTo
	cfg["amount"] = job.Amount
	return cfg
}

func (d *EngineDispatcher) Dispatch(ctx context.Context, workerID int, job model.RebalanceJob) (outcome model.DispatchOutcome) {
	outcome.DispatchID = uuid.NewString()
	start := time.Now()
	defer func() { outcome.Duration = time.Since(start) }()

	log := d.log.With(
		zap.Int("worker_id", workerID),
		zap.String("dispatch_id", outcome.DispatchID),
		zap.String("pair", job.Label()),
	)
	log.Info("rebalance pair",
		zap.String("source", job.Source.Alias),
		zap.Int("source_local_pct", job.Source.LocalPct()),
		zap.Int("source_min_pct", job.Source.OutboundTargetPct),
		zap.String("target", job.Target.Alias),
		zap.Int("target_local_pct", job.Target.LocalPct()),
		zap.Int("target_max_pct", job.Target.MaxLocalPct()),
		zap.Int64("amount", job.Amount),
	)

	template, err := d.LoadTemplate()
	if err != nil {
		outcome.Err = err
		return outcome
	}
	payload, err := sonnet.Marshal(BuildEngineConfig(template, job))
	if err != nil {
		outcome.Err = fmt.Errorf("cannot encode engine config: %w", err)
		return outcome
	}

	if d.dryRun {
		log.Info("dry run, engine not executed", zap.ByteString("config", payload))
		outcome.DryRun = true
		return outcome
	}

	if err := ctx.Err(); err != nil {
		outcome.Err = err
		return outcome
	}

	path, err := d.writeConfig(outcome.DispatchID, payload)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	defer os.Remove(path)

	log.Info("engine start")
	d.run(log, path, &outcome)
	log.Info("engine end",
		zap.Int("exit_code", outcome.ExitCode),
		zap.Int("lines", outcome.Lines),
		zap.Duration("duration", time.Since(start)),
		zap.Error(outcome.Err),
	)
	return outcome
}

func (d *EngineDispatcher) writeConfig(id string, payload []byte) (string, error) {
	dir := d.config.WorkDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "regolancer-"+id+".json")
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return "", fmt.Errorf("cannot write engine config: %w", err)
	}
	return path, nil
}

// run blocks until the engine exits. The process is never killed; the cycle
// deadline only stops further jobs from being scheduled.
func (d *EngineDispatcher) run(log *zap.Logger, path string, outcome *model.DispatchOutcome) {
	cmd := exec.Command(d.config.Binary, "--config", path)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		outcome.Err = err
		return
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		outcome.Err = fmt.Errorf("cannot launch engine: %w", err)
		return
	}
	outcome.Launched = true

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\t ")
		if line == "" {
			continue
		}
		outcome.Lines++
		outcome.Tail = append(outcome.Tail, line)
		if len(outcome.Tail) > outputTailLines {
			outcome.Tail = outcome.Tail[1:]
		}
		if d.config.StreamOutput {
			log.Info(line)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Warn("engine output unreadable, discarding the rest", zap.Error(err))
		io.Copy(io.Discard, stdout)
	}

	err = cmd.Wait()
	if cmd.ProcessState != nil {
		outcome.ExitCode = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		outcome.Err = err
	}
}
