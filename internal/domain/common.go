package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// PositionStatus represents the lifecycle state of a position.
//
// Valid transitions:
//
//	PENDING -> OPEN | CANCELLED
//	OPEN    -> CLOSED | EXPIRED
//	EXPIRED -> CLOSED
//
// CANCELLED and CLOSED are terminal.
type PositionStatus string

const (
	StatusPending   PositionStatus = "PENDING"
	StatusOpen      PositionStatus = "OPEN"
	StatusExpired   PositionStatus = "EXPIRED"
	StatusCancelled PositionStatus = "CANCELLED"
	StatusClosed    PositionStatus = "CLOSED"
)

// IsTerminal reports whether the status allows no further transitions.
func (s PositionStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusClosed
}

// NonTerminalStatuses lists every status under which a code is considered
// occupied: at most one position per code may hold one of these at a time.
func NonTerminalStatuses() []PositionStatus {
	return []PositionStatus{StatusPending, StatusOpen, StatusExpired}
}

// CanTransition reports whether moving from s to next is a valid edge of the
// lifecycle graph.
func (s PositionStatus) CanTransition(next PositionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusOpen || next == StatusCancelled
	case StatusOpen:
		return next == StatusClosed || next == StatusExpired
	case StatusExpired:
		return next == StatusClosed
	default:
		return false
	}
}

// ExitReason tags why a position reached a terminal status.
type ExitReason string

const (
	ReasonTakeProfit       ExitReason = "TP"
	ReasonStopLoss         ExitReason = "SL"
	ReasonForcedLimit      ExitReason = "EXPIRED_FORCED_LIMIT"
	ReasonForcedMarket     ExitReason = "EXPIRED_FORCED_MARKET"
	ReasonCancelledExpired ExitReason = "CANCELLED_EXPIRED"
)
