package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lnops/rebalance-orchestrator-go/model"
	"github.com/lnops/rebalance-orchestrator-go/utils"
	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
)

const escalationStateKey = "escalation_state"

var hundred = decimal.NewFromInt(100)

// Escalator owns the amount ramp shared by every worker. The whole
// load-advance-persist sequence runs under one mutex.
type Escalator struct {
	log    *zap.Logger
	config model.EscalationConfig
	store  utils.StateStore

	mu   sync.Mutex
	last model.EscalationState
}

func NewEscalator(log *zap.Logger, config model.EscalationConfig, store utils.StateStore) *Escalator {
	return &Escalator{log: log, config: config, store: store}
}

// AdvanceAndGetAmount counts one cycle and returns the amount to use for it.
func (e *Escalator) AdvanceAndGetAmount(ctx context.Context) (int64, model.EscalationState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.load(ctx)
	state = Advance(state, e.config)

	encoded, err := sonnet.Marshal(state)
	if err != nil {
		return 0, state, err
	}
	if err := e.store.Put(ctx, escalationStateKey, string(encoded)); err != nil {
		return 0, state, fmt.Errorf("cannot persist escalation state: %w", err)
	}

	e.last = state
	return Amount(e.config, state.IncreaseSteps), state, nil
}

// Peek returns the last state this process persisted, without advancing.
func (e *Escalator) Peek() (model.EscalationState, int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, Amount(e.config, e.last.IncreaseSteps)
}

func (e *Escalator) load(ctx context.Context) model.EscalationState {
	raw, err := e.store.Get(ctx, escalationStateKey)
	if errors.Is(err, utils.ErrStateNotFound) {
		return model.EscalationState{}
	}
	if err != nil {
		e.log.Warn("cannot read escalation state, starting from zero", zap.Error(err))
		return model.EscalationState{}
	}

	var state model.EscalationState
	if err := sonnet.Unmarshal([]byte(raw), &state); err != nil || state.CycleCount < 0 || state.IncreaseSteps < 0 {
		e.log.Warn("corrupt escalation state, starting from zero", zap.String("raw", raw), zap.Error(err))
		return model.EscalationState{}
	}
	if state.IncreaseSteps > e.config.MaxIncreases {
		e.log.Warn("stored increase steps above max_increases, wrapping to zero",
			zap.Int64("increase_steps", state.IncreaseSteps),
			zap.Int64("max_increases", e.config.MaxIncreases),
		)
		state.IncreaseSteps = 0
	}
	return state
}

// Advance applies one cycle to state. Steps wrap to 0 once they would exceed
// MaxIncreases, so the ramp repeats every StepEvery*(MaxIncreases+1) cycles.
func Advance(state model.EscalationState, config model.EscalationConfig) model.EscalationState {
	state.CycleCount++
	if config.StepEvery > 0 && state.CycleCount%config.StepEvery == 0 {
		state.IncreaseSteps++
		if state.IncreaseSteps > config.MaxIncreases {
			state.IncreaseSteps = 0
		}
	}
	return state
}

// Amount compounds InitialAmount by StepPct percent per step, truncating to
// whole units after every multiplication.
func Amount(config model.EscalationConfig, steps int64) int64 {
	factor := decimal.NewFromInt(config.StepPct).Div(hundred).Add(decimal.NewFromInt(1))
	amount := decimal.NewFromInt(config.InitialAmount)
	for i := int64(0); i < steps; i++ {
		amount = amount.Mul(factor).Truncate(0)
	}
	return amount.IntPart()
}
