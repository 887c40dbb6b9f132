package core

import (
	"github.com/lnops/rebalance-orchestrator-go/model"
)

// ValidSource reports whether c can give up local liquidity: it is not
// asking for inbound itself and sits above its outbound floor.
func ValidSource(c model.Channel) bool {
	return !c.AutoRebalance && c.LocalPct() > c.OutboundTargetPct
}

// ValidTarget reports whether c wants liquidity and is still below the
// local ceiling implied by its inbound target.
func ValidTarget(c model.Channel) bool {
	return c.AutoRebalance && c.LocalPct() < c.MaxLocalPct()
}

func computePFrom(c model.Channel) int {
	return 100 - c.OutboundTargetPct
}

func computePTo(c model.Channel) int {
	return 100 - c.InboundTargetPct
}

// BuildJobs returns every source x target pair except self pairs, in source
// major order. Ordering and prioritisation are left to the caller.
func BuildJobs(channels []model.Channel) []model.RebalanceJob {
	type bounded struct {
		channel model.Channel
		pct     int
	}

	var sources, targets []bounded
	for _, c := range channels {
		if ValidSource(c) {
			sources = append(sources, bounded{channel: c, pct: computePFrom(c)})
		}
		if ValidTarget(c) {
			targets = append(targets, bounded{channel: c, pct: computePTo(c)})
		}
	}

	if len(sources) == 0 || len(targets) == 0 {
		return nil
	}

	jobs := make([]model.RebalanceJob, 0, len(sources)*len(targets))
	for _, s := range sources {
		for _, t := range targets {
			if s.channel.ID == t.channel.ID {
				continue
			}
			jobs = append(jobs, model.RebalanceJob{
				Source: s.channel,
				Target: t.channel,
				PFrom:  s.pct,
				PTo:    t.pct,
			})
		}
	}

	return jobs
}
