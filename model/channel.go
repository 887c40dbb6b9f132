package model

import (
	"errors"
	"fmt"
)

var ErrInvalidCapacity = errors.New("channel capacity must be positive")

const UnknownAlias = "unknown"

// Channel is one local endpoint of a payment channel as seen in a single
// snapshot. LocalBalance already includes pending outbound amounts.
type Channel struct {
	ID                string
	Pubkey            string
	Alias             string
	Capacity          int64
	LocalBalance      int64
	OutboundTargetPct int
	InboundTargetPct  int
	AutoRebalance     bool
}

// NewChannel builds a Channel from raw snapshot values. Balances and targets
// are clamped into range; a non-positive capacity is rejected.
func NewChannel(id, pubkey, alias string, capacity, localBalance, pendingOutbound int64, outboundTarget, inboundTarget int, autoRebalance bool) (Channel, error) {
	if id == "" {
		return Channel{}, errors.New("channel id is empty")
	}
	if capacity <= 0 {
		return Channel{}, fmt.Errorf("channel %s: %w", id, ErrInvalidCapacity)
	}
	if alias == "" {
		alias = UnknownAlias
	}

	local := clamp64(localBalance+pendingOutbound, 0, capacity)

	return Channel{
		ID:                id,
		Pubkey:            pubkey,
		Alias:             alias,
		Capacity:          capacity,
		LocalBalance:      local,
		OutboundTargetPct: clampInt(outboundTarget, 0, 100),
		InboundTargetPct:  clampInt(inboundTarget, 0, 100),
		AutoRebalance:     autoRebalance,
	}, nil
}

func (c Channel) RemoteBalance() int64 {
	return c.Capacity - c.LocalBalance
}

// LocalPct is floor(local*100/capacity), 0 when capacity is not positive.
func (c Channel) LocalPct() int {
	if c.Capacity <= 0 {
		return 0
	}
	return int(c.LocalBalance * 100 / c.Capacity)
}

// MaxLocalPct is the local percentage a target may be filled up to.
func (c Channel) MaxLocalPct() int {
	return 100 - c.InboundTargetPct
}

func clamp64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
