package core

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/lnops/rebalance-orchestrator-go/model"
	"go.uber.org/zap"
)

type ChannelLoader interface {
	LoadChannels(ctx context.Context) ([]model.Channel, error)
}

type AmountSource interface {
	AdvanceAndGetAmount(ctx context.Context) (int64, model.EscalationState, error)
}

// Worker repeatedly loads a snapshot, pairs channels and dispatches its share
// of the jobs, one at a time, until the context is cancelled.
type Worker struct {
	id         int
	total      int
	log        *zap.Logger
	daemon     model.DaemonConfig
	loader     ChannelLoader
	amounts    AmountSource
	dispatcher Dispatcher

	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
	sleep   func(ctx context.Context, d time.Duration) bool

	state atomic.Value
	last  atomic.Pointer[model.CycleReport]
}

func NewWorker(id, total int, log *zap.Logger, daemon model.DaemonConfig, loader ChannelLoader, amounts AmountSource, dispatcher Dispatcher) *Worker {
	if total < 1 {
		total = 1
	}
	w := &Worker{
		id:         id,
		total:      total,
		log:        log.With(zap.Int("worker_id", id)),
		daemon:     daemon,
		loader:     loader,
		amounts:    amounts,
		dispatcher: dispatcher,
		now:        time.Now,
		shuffle:    rand.Shuffle,
		sleep:      sleepContext,
	}
	w.state.Store(model.WorkerIdle)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started", zap.Int("workers", w.total))
	for ctx.Err() == nil {
		w.RunCycle(ctx)

		w.setState(model.WorkerSleeping)
		if !w.sleep(ctx, w.daemon.Sleep()) {
			break
		}
	}
	w.setState(model.WorkerIdle)
	w.log.Info("worker stopped")
}

// RunCycle executes one iteration. Errors and panics end the cycle and are
// recorded in the report; they never escape to the caller.
func (w *Worker) RunCycle(ctx context.Context) (report model.CycleReport) {
	report.CycleID = uuid.NewString()
	report.StartedAt = w.now()
	log := w.log.With(zap.String("cycle_id", report.CycleID))

	defer func() {
		if r := recover(); r != nil {
			report.Error = fmt.Sprintf("panic: %v", r)
			log.Error("cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		report.FinishedAt = w.now()
		stored := report
		w.last.Store(&stored)
		w.setState(model.WorkerIdle)
	}()

	amount, state, err := w.amounts.AdvanceAndGetAmount(ctx)
	if err != nil {
		report.Error = err.Error()
		log.Error("cannot advance escalation, cycle abandoned", zap.Error(err))
		return report
	}
	report.Cycle = state.CycleCount
	report.Amount = amount
	log = log.With(zap.Int64("cycle", state.CycleCount), zap.Int64("amount", amount))

	w.setState(model.WorkerLoading)
	channels, err := w.loader.LoadChannels(ctx)
	if err != nil {
		report.Error = err.Error()
		log.Error("cannot load channels, cycle abandoned", zap.Error(err))
		return report
	}
	report.Channels = len(channels)

	w.setState(model.WorkerPairing)
	jobs := BuildJobs(channels)
	report.Candidates = len(jobs)
	jobs = w.partition(jobs)
	report.Assigned = len(jobs)
	if w.daemon.ShuffleJobs {
		w.shuffle(len(jobs), func(i, j int) { jobs[i], jobs[j] = jobs[j], jobs[i] })
	}

	log.Info("cycle planned",
		zap.Int("channels", report.Channels),
		zap.Int("candidates", report.Candidates),
		zap.Int("assigned", report.Assigned),
	)

	w.setState(model.WorkerDispatching)
	deadline := w.daemon.CycleDeadline()
	for i, job := range jobs {
		if ctx.Err() != nil {
			report.Abandoned = len(jobs) - i
			log.Info("shutdown requested, remaining jobs skipped", zap.Int("abandoned", report.Abandoned))
			break
		}
		if elapsed := w.now().Sub(report.StartedAt); elapsed > deadline {
			report.Abandoned = len(jobs) - i
			log.Warn("cycle deadline exceeded, abandoning remaining jobs",
				zap.Duration("elapsed", elapsed),
				zap.Duration("deadline", deadline),
				zap.Int("abandoned", report.Abandoned),
			)
			break
		}

		job.Amount = amount
		outcome := w.dispatcher.Dispatch(ctx, w.id, job)
		report.Dispatched++
		if outcome.Err != nil {
			report.Failed++
			report.LastFailure = outcome.Err.Error()
			if n := len(outcome.Tail); n > 0 {
				report.LastFailure += ": " + outcome.Tail[n-1]
			}
			log.Error("dispatch failed",
				zap.String("source", job.Source.ID),
				zap.String("target", job.Target.ID),
				zap.Bool("launched", outcome.Launched),
				zap.Int("exit_code", outcome.ExitCode),
				zap.Duration("duration", outcome.Duration),
				zap.Strings("output_tail", outcome.Tail),
				zap.Error(outcome.Err),
			)
			continue
		}
		log.Debug("job dispatched",
			zap.String("source", job.Source.ID),
			zap.String("target", job.Target.ID),
			zap.Int("exit_code", outcome.ExitCode),
			zap.Duration("duration", outcome.Duration),
			zap.Int("output_lines", outcome.Lines),
		)
	}

	log.Info("cycle finished",
		zap.Int("dispatched", report.Dispatched),
		zap.Int("failed", report.Failed),
		zap.Int("abandoned", report.Abandoned),
		zap.Duration("took", w.now().Sub(report.StartedAt)),
	)
	return report
}

// partition keeps the jobs this worker owns, so concurrent workers never
// dispatch the same pair within a cycle.
func (w *Worker) partition(jobs []model.RebalanceJob) []model.RebalanceJob {
	if w.total <= 1 {
		return jobs
	}
	owned := jobs[:0:0]
	for _, job := range jobs {
		if int(xxhash.Sum64String(job.Key())%uint64(w.total)) == w.id-1 {
			owned = append(owned, job)
		}
	}
	return owned
}

func (w *Worker) setState(state model.WorkerState) {
	w.state.Store(state)
}

func (w *Worker) Status() model.WorkerStatus {
	return model.WorkerStatus{
		WorkerID:   w.id,
		State:      w.state.Load().(model.WorkerState),
		LastReport: w.last.Load(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
