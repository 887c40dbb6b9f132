package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lnops/rebalance-orchestrator-go/api"
	"github.com/lnops/rebalance-orchestrator-go/core"
	"github.com/lnops/rebalance-orchestrator-go/model"
	"github.com/lnops/rebalance-orchestrator-go/utils"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const serverShutdownTimeout = 5 * time.Second

type RebalanceAgent struct {
	log    *zap.Logger
	config *model.Config
	cron   *cron.Cron

	store     utils.StateStore
	escalator *core.Escalator
	workers   []*core.Worker
	streams   []core.Stream
	notifier  *core.Notifier
	gate      *core.DailyGate
	server    *http.Server
}

func NewRebalanceAgent(log *zap.Logger, config *model.Config) (*RebalanceAgent, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	cronLog := utils.CronLogger(log)
	return &RebalanceAgent{
		log:    log,
		config: config,
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}, nil
}

// Setup opens the state store and builds every component. A missing or
// unreadable engine template fails here rather than on the first dispatch.
func (a *RebalanceAgent) Setup() error {
	store, err := utils.OpenStateStore(a.config)
	if err != nil {
		return fmt.Errorf("cannot open state store: %w", err)
	}
	a.store = store

	dispatcher := core.NewEngineDispatcher(a.log, a.config.Engine, a.config.Daemon.DryRun)
	if _, err := dispatcher.LoadTemplate(); err != nil {
		return fmt.Errorf("cannot load engine template: %w", err)
	}

	lndg := utils.NewLndgClient(a.log, a.config, utils.NewHTTPClient(a.log, a.config, false))
	a.escalator = core.NewEscalator(a.log, a.config.Escalation, store)

	total := a.config.Daemon.Workers
	for id := 1; id <= total; id++ {
		a.workers = append(a.workers, core.NewWorker(id, total, a.log, a.config.Daemon, lndg, a.escalator, dispatcher))
	}

	sink := utils.NewTelegramSink(a.config.Notifications.TelegramToken, a.config.Notifications.TelegramChatID)
	a.streams = a.buildStreams(lndg, store)
	a.notifier = core.NewNotifier(a.log, sink, a.streams...)

	if a.config.Report.Command != "" {
		trigger, err := utils.ParseTrigger(a.config.Report.Trigger)
		if err != nil {
			return err
		}
		loc, err := utils.LoadLocation(a.config.Report.Timezone)
		if err != nil {
			return err
		}
		runner := utils.NewCommandReportRunner(a.log, a.config.Report.Command)
		a.gate = core.NewDailyGate(a.log, store, runner, sink, trigger, loc, a.config.Report.Timeout())
	}

	if a.config.Status.Addr != "" {
		handler := api.NewHandler(a.log, a)
		a.server = api.NewServer(a.config.Status.Addr, handler, a.config.Status.AllowedOrigins)
	}

	a.log.Info("rebalance agent ready",
		zap.Int("workers", total),
		zap.Bool("dry_run", a.config.Daemon.DryRun),
		zap.String("state_backend", a.config.State.Backend),
		zap.Int("streams", len(a.streams)),
		zap.Bool("daily_report", a.gate != nil),
		zap.String("status_addr", a.config.Status.Addr),
	)
	return nil
}

func (a *RebalanceAgent) buildStreams(lndg *utils.LndgClient, store utils.StateStore) []core.Stream {
	var streams []core.Stream
	notify := a.config.Notifications
	if notify.Local {
		streams = append(streams, core.NewFileStream(a.log, model.StreamLocal, a.config.Engine.SuccessLog, store))
	}
	if notify.Lndg {
		streams = append(streams, core.NewFeedStream(a.log, model.StreamLndg, lndg.FetchRebalances, store))
	}
	if notify.Los {
		los := utils.NewLosClient(a.log, a.config, utils.NewHTTPClient(a.log, a.config, a.config.Los.InsecureTLS))
		streams = append(streams, core.NewFeedStream(a.log, model.StreamLos, los.FetchAttempts, store))
	}
	return streams
}

// Run blocks until ctx is cancelled and every worker has finished its
// current job.
func (a *RebalanceAgent) Run(ctx context.Context) error {
	if a.store == nil {
		return errors.New("agent not set up")
	}

	g, ctx := errgroup.WithContext(ctx)

	if err := a.schedule(ctx); err != nil {
		return err
	}
	a.cron.Start()

	for _, worker := range a.workers {
		worker := worker
		g.Go(func() error {
			worker.Run(ctx)
			return nil
		})
	}

	if a.server != nil {
		g.Go(func() error {
			a.log.Info("status server listening", zap.String("addr", a.server.Addr))
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func (a *RebalanceAgent) schedule(ctx context.Context) error {
	every := func(seconds int) string { return fmt.Sprintf("@every %ds", seconds) }

	if _, err := a.cron.AddFunc(every(a.config.Daemon.NotifyIntervalSeconds), func() {
		a.notifier.PollOnce(ctx)
	}); err != nil {
		return fmt.Errorf("cannot schedule notifier: %w", err)
	}

	if a.gate != nil {
		if _, err := a.cron.AddFunc(every(a.config.Daemon.DailyCheckIntervalSeconds), func() {
			a.gate.MaybeRun(ctx)
		}); err != nil {
			return fmt.Errorf("cannot schedule daily report: %w", err)
		}
	}
	return nil
}

func (a *RebalanceAgent) Status() model.StatusReport {
	report := model.StatusReport{DryRun: a.config.Daemon.DryRun}
	for _, worker := range a.workers {
		report.Workers = append(report.Workers, worker.Status())
	}
	if a.escalator != nil {
		report.Escalation, report.Amount = a.escalator.Peek()
	}
	return report
}

func (a *RebalanceAgent) Stop() {
	<-a.cron.Stop().Done()
	a.log.Info("cron scheduler stopped, all jobs completed")

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("cannot close state store", zap.Error(err))
		}
	}
	a.log.Info("rebalance agent shut down")
}
