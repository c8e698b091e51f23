package ports

import (
	"context"

	"kistrader/internal/domain"
)

// Holding is one normalized row of the broker's account snapshot. Historical
// integrations report the same quantities under different field names; the
// adapter maps all of them onto this shape so the engine never sees the
// variation.
type Holding struct {
	Code      string
	Name      string
	Qty       int64
	AvgPrice  float64 // Broker-reported average fill price
	LastPrice float64
	EvalPnL   float64 // Broker-side unrealized P&L, informational only
}

// OrderAck is the broker's acknowledgment of an accepted order. Adapters
// return an ack only for responses carrying a recognized success code;
// anything else surfaces as an error, including a clean HTTP response with
// an unrecognized payload.
type OrderAck struct {
	OrderID string // Broker order reference ("" if the response omitted one)
	Message string
}

// Broker defines the brokerage gateway consumed by the engine.
type Broker interface {
	// GetQuote returns the current traded price for code.
	GetQuote(ctx context.Context, code string) (float64, error)
	// GetBestBid returns the best bid for code, preferring orderbook data
	// over the quote endpoint.
	GetBestBid(ctx context.Context, code string) (float64, error)
	// GetHoldings returns the account's current holdings keyed by code.
	GetHoldings(ctx context.Context) (map[string]Holding, error)
	// GetCashBalance returns the account's available cash.
	GetCashBalance(ctx context.Context) (float64, error)

	SubmitLimitBuy(ctx context.Context, code string, qty int64, price int64) (*OrderAck, error)
	SubmitLimitSell(ctx context.Context, code string, qty int64, price int64) (*OrderAck, error)
	SubmitMarketSell(ctx context.Context, code string, qty int64) (*OrderAck, error)
}

// OrderCanceller is the optional cancellation capability. The reconciler
// type-asserts for it; a gateway without it still works, pending expiries are
// then marked cancelled locally only.
type OrderCanceller interface {
	CancelOrder(ctx context.Context, orderID string) error
}

// SignalSource supplies the day's ordered trade candidates.
type SignalSource interface {
	Load(ctx context.Context) ([]domain.Signal, error)
}

// Notifier delivers human-facing alerts. Implementations must be safe to
// call with a nil-result expectation: a failed delivery is logged by the
// caller and never alters engine state.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// SnapshotSink consumes the engine's per-tick read-only snapshot.
type SnapshotSink interface {
	Publish(snap domain.Snapshot)
}
