package model

import "time"

type WorkerState string

const (
	WorkerIdle        WorkerState = "idle"
	WorkerLoading     WorkerState = "loading"
	WorkerPairing     WorkerState = "pairing"
	WorkerDispatching WorkerState = "dispatching"
	WorkerSleeping    WorkerState = "sleeping"
)

type CycleReport struct {
	CycleID    string    `json:"cycle_id"`
	Cycle      int64     `json:"cycle"`
	Amount     int64     `json:"amount"`
	Channels   int       `json:"channels"`
	Candidates int       `json:"candidates"`
	Assigned   int       `json:"assigned"`
	Dispatched int       `json:"dispatched"`
	Abandoned  int       `json:"abandoned"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
	// LastFailure is the newest dispatch error, followed by the last line the
	// engine printed before it failed.
	LastFailure string `json:"last_failure,omitempty"`
}

type WorkerStatus struct {
	WorkerID   int          `json:"worker_id"`
	State      WorkerState  `json:"state"`
	LastReport *CycleReport `json:"last_report,omitempty"`
}

type StatusReport struct {
	DryRun     bool            `json:"dry_run"`
	Workers    []WorkerStatus  `json:"workers"`
	Escalation EscalationState `json:"escalation"`
	Amount     int64           `json:"amount"`
}
