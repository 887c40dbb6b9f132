package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lnops/rebalance-orchestrator-go/utils"
	"go.uber.org/zap"
)

const (
	dailySuccessKey = "daily_report_success"
	dailyErrorKey   = "daily_report_error"
	dayLayout       = "2006-01-02"
)

// DailyGate runs the report job at most once successfully per calendar day,
// starting at the trigger minute. Failures are retried on every later check
// that day but alerted only once.
type DailyGate struct {
	log     *zap.Logger
	store   utils.StateStore
	runner  utils.ReportRunner
	sink    utils.Sink
	trigger int
	loc     *time.Location
	timeout time.Duration
	now     func() time.Time
}

func NewDailyGate(log *zap.Logger, store utils.StateStore, runner utils.ReportRunner, sink utils.Sink, triggerMinute int, loc *time.Location, timeout time.Duration) *DailyGate {
	if loc == nil {
		loc = time.Local
	}
	return &DailyGate{
		log:     log,
		store:   store,
		runner:  runner,
		sink:    sink,
		trigger: triggerMinute,
		loc:     loc,
		timeout: timeout,
		now:     time.Now,
	}
}

// MaybeRun reports whether the job was attempted on this check.
func (g *DailyGate) MaybeRun(ctx context.Context) bool {
	now := g.now().In(g.loc)
	if now.Hour()*60+now.Minute() < g.trigger {
		return false
	}
	today := now.Format(dayLayout)

	if g.get(ctx, dailySuccessKey) == today {
		return false
	}

	g.log.Info("running daily report", zap.String("day", today))

	runCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if runErr := g.runner.Run(runCtx); runErr != nil {
		g.log.Error("daily report failed", zap.String("day", today), zap.Error(runErr))
		if g.get(ctx, dailyErrorKey) == today {
			return true
		}
		if err := g.store.Put(ctx, dailyErrorKey, today); err != nil {
			g.log.Error("cannot persist daily report error marker", zap.Error(err))
		}
		if err := g.sink.Send(ctx, fmt.Sprintf("⚠️ daily report failed (%s): %v", today, runErr)); err != nil {
			g.log.Error("cannot send daily report alert", zap.Error(err))
		}
		return true
	}

	if err := g.store.Put(ctx, dailySuccessKey, today); err != nil {
		g.log.Error("cannot persist daily report success marker", zap.Error(err))
	}
	if err := g.store.Delete(ctx, dailyErrorKey); err != nil {
		g.log.Warn("cannot clear daily report error marker", zap.Error(err))
	}
	g.log.Info("daily report done", zap.String("day", today))
	return true
}

func (g *DailyGate) get(ctx context.Context, key string) string {
	value, err := g.store.Get(ctx, key)
	if err != nil && !errors.Is(err, utils.ErrStateNotFound) {
		g.log.Warn("cannot read daily gate marker", zap.String("key", key), zap.Error(err))
	}
	return value
}
