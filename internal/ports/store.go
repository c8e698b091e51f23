package ports

import (
	"context"
	"time"

	"kistrader/internal/domain"
)

// PositionStore defines the durable position record contract. The engine is
// the only writer; it re-derives every decision from FindByStatus plus the
// wall clock, so a failed write is self-healing on the next pass.
type PositionStore interface {
	// Insert saves a new position and returns its assigned ID.
	Insert(ctx context.Context, pos *domain.Position) (int64, error)
	// FindByStatus retrieves positions whose status is one of statuses,
	// ordered by open time ascending.
	FindByStatus(ctx context.Context, statuses ...domain.PositionStatus) ([]*domain.Position, error)
	// CodesByStatus retrieves the distinct codes holding one of statuses.
	CodesByStatus(ctx context.Context, statuses ...domain.PositionStatus) ([]string, error)
	// UpdateStatus moves the position to status without touching trade facts.
	UpdateStatus(ctx context.Context, id int64, status domain.PositionStatus) error
	// ConfirmFill transitions PENDING -> OPEN, overwriting quantity and entry
	// with the broker-reported values.
	ConfirmFill(ctx context.Context, id int64, qty int64, entry float64) error
	// MarkCancelled transitions PENDING -> CANCELLED with the given reason,
	// appending note to the position's note.
	MarkCancelled(ctx context.Context, id int64, at time.Time, reason domain.ExitReason, note string) error
	// ClosePosition moves the position to CLOSED and computes and persists
	// the realized analytics (gross P&L, return pct, holding duration).
	ClosePosition(ctx context.Context, id int64, exitPrice float64, exitTime time.Time, reason domain.ExitReason) error
}
