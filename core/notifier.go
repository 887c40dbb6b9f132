package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/lnops/rebalance-orchestrator-go/model"
	"github.com/lnops/rebalance-orchestrator-go/utils"
	"go.uber.org/zap"
)

var streamLabels = map[string]string{
	model.StreamLocal: "Regolancer-Orchestrator",
	model.StreamLndg:  "LNDg",
	model.StreamLos:   "LightningOS",
}

// Notifier turns new success events into push messages. It is the only
// writer of the stream cursors and must not run concurrently with itself.
type Notifier struct {
	log     *zap.Logger
	streams []Stream
	sink    utils.Sink
}

func NewNotifier(log *zap.Logger, sink utils.Sink, streams ...Stream) *Notifier {
	return &Notifier{log: log, streams: streams, sink: sink}
}

// PollOnce polls every stream and returns how many messages were sent. A
// stream's cursor advances past an event only after the sink accepted it; the
// first failed send stops that stream so the event is retried next poll.
func (n *Notifier) PollOnce(ctx context.Context) int {
	sent := 0
	for _, stream := range n.streams {
		for _, event := range stream.Poll(ctx) {
			if err := n.sink.Send(ctx, FormatSuccess(event)); err != nil {
				n.log.Error("cannot send rebalance notification, will retry",
					zap.String("stream", event.Stream),
					zap.String("event_id", event.ID),
					zap.Error(err),
				)
				break
			}
			stream.Commit(ctx, event)
			sent++
		}
	}
	if sent > 0 {
		n.log.Info("rebalance notifications sent", zap.Int("count", sent))
	}
	return sent
}

func FormatSuccess(event model.SuccessEvent) string {
	label, ok := streamLabels[event.Stream]
	if !ok {
		label = event.Stream
	}

	var b strings.Builder
	fmt.Fprintf(&b, "☯️ ⚡ rebalance by %s", label)
	if event.AmountSat > 0 {
		fmt.Fprintf(&b, "\n💰 %d sats", event.AmountSat)
		if event.FeeSat.IsPositive() {
			fmt.Fprintf(&b, " (fee %s sats)", event.FeeSat.StringFixed(3))
		}
	}
	if event.Source != "" || event.Target != "" {
		fmt.Fprintf(&b, "\n%s → %s", orUnknown(event.Source), orUnknown(event.Target))
	}
	if event.AmountSat == 0 && event.Raw != "" {
		fmt.Fprintf(&b, "\n%s", event.Raw)
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return model.UnknownAlias
	}
	return s
}
