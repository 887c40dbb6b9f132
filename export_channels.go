package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/lnops/rebalance-orchestrator-go/core"
	"github.com/lnops/rebalance-orchestrator-go/model"
	"go.uber.org/zap"
)

type channelLoader interface {
	LoadChannels(ctx context.Context) ([]model.Channel, error)
}

// exportChannels writes the current snapshot, with each channel's pairing
// role, to a timestamped CSV in dir and returns the file path.
func exportChannels(ctx context.Context, log *zap.Logger, loader channelLoader, dir string, now time.Time) (string, error) {
	channels, err := loader.LoadChannels(ctx)
	if err != nil {
		return "", fmt.Errorf("cannot load channels: %w", err)
	}

	sort.Slice(channels, func(i, j int) bool {
		if channels[i].Alias != channels[j].Alias {
			return channels[i].Alias < channels[j].Alias
		}
		return channels[i].ID < channels[j].ID
	})

	filename := filepath.Join(dir, fmt.Sprintf("channels_%s.csv", now.Format("20060102-150405")))
	file, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("cannot create csv file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Alias", "ID", "Pubkey", "Capacity", "Local", "Remote", "LocalPct", "OutTarget", "InTarget", "Role"}); err != nil {
		return "", fmt.Errorf("cannot write csv header: %w", err)
	}
	for _, c := range channels {
		if err := writer.Write([]string{
			c.Alias,
			c.ID,
			c.Pubkey,
			strconv.FormatInt(c.Capacity, 10),
			strconv.FormatInt(c.LocalBalance, 10),
			strconv.FormatInt(c.RemoteBalance(), 10),
			strconv.Itoa(c.LocalPct()),
			strconv.Itoa(c.OutboundTargetPct),
			strconv.Itoa(c.InboundTargetPct),
			role(c),
		}); err != nil {
			log.Warn("cannot write channel to csv", zap.String("channel", c.ID), zap.Error(err))
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}

	log.Info("channels exported", zap.Int("count", len(channels)), zap.String("file", filename))
	return filename, nil
}

func role(c model.Channel) string {
	switch {
	case core.ValidSource(c):
		return "source"
	case core.ValidTarget(c):
		return "target"
	}
	return "-"
}
