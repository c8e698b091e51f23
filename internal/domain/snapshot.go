package domain

import "time"

// SnapshotPosition is the read-only view of one tracked position.
type SnapshotPosition struct {
	ID            int64
	Code          string
	Name          string
	Status        PositionStatus
	Qty           int64
	Entry         float64
	LastPrice     float64 // Zero when no quote has been seen this session
	UnrealizedPnL float64
}

// Snapshot is the engine's published view of the trading day. It is built
// once per loop iteration and handed to consumers by value: presentation and
// telemetry layers read it and never reach back into engine state.
type Snapshot struct {
	Time  time.Time
	Phase string // Scheduler window label (e.g., "session", "closing")

	Positions []SnapshotPosition

	TotalUnrealizedPnL float64

	// Day counters, cumulative since process start.
	Admitted        int
	Filled          int
	Cancelled       int
	ClosedByReason  map[ExitReason]int
	OrdersSubmitted int
}
