package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lnops/rebalance-orchestrator-go/agent"
	"github.com/lnops/rebalance-orchestrator-go/model"
	"github.com/lnops/rebalance-orchestrator-go/utils"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to the YAML config file")
	exportDir := flag.String("export-channels", "", "write the current channel snapshot as CSV into this directory and exit")
	flag.Parse()

	config, err := utils.ReadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(config)
	if err != nil {
		panic("cannot initialize logger: " + err.Error())
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	if *exportDir != "" {
		lndg := utils.NewLndgClient(log, config, utils.NewHTTPClient(log, config, false))
		if _, err := exportChannels(context.Background(), log, lndg, *exportDir, time.Now()); err != nil {
			log.Error("failed to export channels", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	rebalanceAgent, err := agent.NewRebalanceAgent(log, config)
	if err != nil {
		log.Error("failed to initialize rebalance agent", zap.Error(err))
		os.Exit(1)
	}

	if err := rebalanceAgent.Setup(); err != nil {
		log.Error("failed to setup rebalance agent", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := rebalanceAgent.Run(ctx)
	log.Info("Shutting down Rebalance Agent...")
	rebalanceAgent.Stop()

	if runErr != nil {
		log.Error("error running rebalance agent", zap.Error(runErr))
		os.Exit(1)
	}
}

func newLogger(config *model.Config) (*zap.Logger, error) {
	if config.Daemon.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
