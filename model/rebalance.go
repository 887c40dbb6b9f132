package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RebalanceJob is a candidate move of liquidity from Source to Target.
// Amount is zero until the dispatcher assigns the cycle amount.
type RebalanceJob struct {
	Source Channel
	Target Channel
	PFrom  int
	PTo    int
	Amount int64
}

func (j RebalanceJob) Key() string {
	return j.Source.ID + ">" + j.Target.ID
}

func (j RebalanceJob) Label() string {
	return fmt.Sprintf("%s -> %s (%d)", j.Source.Alias, j.Target.Alias, j.Amount)
}

type EscalationState struct {
	CycleCount    int64 `json:"cycle_count"`
	IncreaseSteps int64 `json:"increase_steps"`
}

// DispatchOutcome describes what happened to the engine process. It says
// nothing about whether liquidity moved; that only shows up as a SuccessEvent.
type DispatchOutcome struct {
	DispatchID string
	Launched   bool
	DryRun     bool
	ExitCode   int
	Lines      int
	Tail       []string
	Duration   time.Duration
	Err        error
}

// SuccessEvent is a rebalance that actually moved liquidity, as reported by
// one of the success streams. Cursor is the stream position just past this
// event; it is stored only once the event has been delivered.
type SuccessEvent struct {
	Stream    string
	ID        string
	Cursor    int64
	Timestamp time.Time
	Source    string
	Target    string
	AmountSat int64
	FeeSat    decimal.Decimal
	Raw       string
}

// FeedRecord is one successful entry of a remote, id-ordered feed.
type FeedRecord struct {
	ID        int64
	AmountSat int64
	FeeSat    decimal.Decimal
	Status    string
	Source    string
	Target    string
	Finished  time.Time
}

const (
	StreamLocal = "local"
	StreamLndg  = "lndg"
	StreamLos   = "los"
)
