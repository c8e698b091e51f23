package domain

import "time"

// Position is the central entity: one buy order and its eventual exit,
// tracked from submission (PENDING) to a terminal status.
type Position struct {
	ID   int64  // Unique identifier, assigned by the store on insert
	Code string // Instrument code (e.g., "005930")
	Name string // Instrument display name
	Side OrderSide
	Qty  int64 // Share count; overwritten by the broker-reported fill

	Entry float64  // Requested entry price; overwritten by the confirmed fill
	TP    *float64 // Take-profit target (nil if the signal carried none)
	SL    *float64 // Stop-loss target (nil if the signal carried none)

	OpenTime  time.Time // When the entry order was submitted
	CloseTime time.Time // Zero until the position reaches a terminal status
	Status    PositionStatus

	ExitPrice  float64
	ExitReason ExitReason

	// Signal metadata, carried through for later analysis.
	Score      *float64
	RR         *float64
	Confidence *float64
	Horizon    string

	// ValidUntil bounds how long the position may stay non-terminal.
	// Zero means no time horizon applies.
	ValidUntil time.Time

	// Realized analytics, computed only at close.
	GrossPnL    float64
	PnLPct      float64
	HoldingDays float64

	// Note is free-form; it carries the broker order reference as
	// "order_id=<ref>" so the reconciler can attempt cancellation.
	Note string
}

// IsTerminal reports whether the position can no longer change.
func (p *Position) IsTerminal() bool {
	return p.Status.IsTerminal()
}

// HorizonExpired reports whether the position's ValidUntil has passed at now.
// Positions without a horizon never expire.
func (p *Position) HorizonExpired(now time.Time) bool {
	if p.ValidUntil.IsZero() {
		return false
	}
	return !now.Before(p.ValidUntil)
}

// Signal is one ranked trade candidate consumed from the daily intake.
// The list order is the admission order.
type Signal struct {
	Code       string
	Name       string
	Side       OrderSide
	Qty        int64
	Entry      float64
	TP         *float64
	SL         *float64
	Score      *float64
	RR         *float64
	Confidence *float64
	Horizon    string
	ValidUntil time.Time // Zero when the intake row carried none
}

// Cost is the capital the candidate would commit if filled at the
// requested entry price.
func (s Signal) Cost() float64 {
	return s.Entry * float64(s.Qty)
}
