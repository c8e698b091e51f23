package app

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"kistrader/config"
	"kistrader/internal/domain"
	"kistrader/internal/ports"
)

// Engine owns the position lifecycle: admission, reconciliation, exit
// monitoring and forced closure, driven by the scheduler loop in
// scheduler.go. It is the single writer of position state; collaborators
// only ever receive read-only snapshots.
type Engine struct {
	cfg      *config.Config
	logger   ports.Logger
	broker   ports.Broker
	store    ports.PositionStore
	signals  ports.SignalSource
	notifier ports.Notifier
	sink     ports.SnapshotSink

	mu         sync.Mutex
	inflight   map[int64]struct{}
	lastPrices map[string]float64
	counters   counters

	latest atomic.Pointer[domain.Snapshot]

	// now is swappable for tests; defaults to the exchange-local clock.
	now func() time.Time
}

type counters struct {
	admitted        int
	filled          int
	cancelled       int
	ordersSubmitted int
	closedByReason  map[domain.ExitReason]int
}

// NewEngine creates the engine. Notifier and snapshot sink are optional;
// nil disables the corresponding output.
func NewEngine(
	cfg *config.Config,
	logger ports.Logger,
	broker ports.Broker,
	store ports.PositionStore,
	signals ports.SignalSource,
	notifier ports.Notifier,
	sink ports.SnapshotSink,
) (*Engine, error) {
	if cfg == nil || logger == nil || broker == nil || store == nil || signals == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		cfg:        cfg,
		logger:     logger,
		broker:     broker,
		store:      store,
		signals:    signals,
		notifier:   notifier,
		sink:       sink,
		inflight:   make(map[int64]struct{}),
		lastPrices: make(map[string]float64),
		counters:   counters{closedByReason: make(map[domain.ExitReason]int)},
		now:        func() time.Time { return time.Now().In(loc) },
	}, nil
}

// --- in-flight guard ---

// tryAcquire marks the position as being evaluated. Returns false when a
// concurrent evaluation already holds it.
func (e *Engine) tryAcquire(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, held := e.inflight[id]; held {
		return false
	}
	e.inflight[id] = struct{}{}
	return true
}

func (e *Engine) release(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id)
}

// --- counters and price cache ---

func (e *Engine) recordPrice(code string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastPrices[code] = price
}

// lastPrice returns the most recent price seen for code, 0 when none has
// been recorded today.
func (e *Engine) lastPrice(code string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastPrices[code]
}

func (e *Engine) countAdmitted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters.admitted++
}

func (e *Engine) countFilled() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters.filled++
}

func (e *Engine) countCancelled() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters.cancelled++
}

func (e *Engine) countOrder() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters.ordersSubmitted++
}

func (e *Engine) countClosed(reason domain.ExitReason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters.closedByReason[reason]++
}

// --- notifications ---

// notify delivers a best-effort alert; failures are logged and ignored.
func (e *Engine) notify(ctx context.Context, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, title, message); err != nil {
		e.logger.Warn(ctx, "Notification delivery failed", map[string]interface{}{"title": title, "error": err.Error()})
	}
}

// --- order reference bookkeeping ---

var orderIDPattern = regexp.MustCompile(`order_id=([A-Za-z0-9\-_]+)`)

// extractOrderID recovers the broker order reference from a position note.
func extractOrderID(note string) string {
	m := orderIDPattern.FindStringSubmatch(note)
	if m == nil {
		return ""
	}
	return m[1]
}

// buildNote assembles the note stored on a new position, embedding the
// broker order reference when the ack carried one.
func buildNote(base string, ack *ports.OrderAck) string {
	if ack != nil && ack.OrderID != "" {
		return base + " | order_id=" + ack.OrderID
	}
	return base
}

// --- snapshot publishing ---

// Snapshot returns the engine's latest published snapshot, or nil before
// the first loop iteration. Safe to call from any goroutine.
func (e *Engine) Snapshot() *domain.Snapshot {
	return e.latest.Load()
}

// publishSnapshot builds the per-tick read-only view and hands it to the
// sink. Store failures degrade to a positions-less snapshot; telemetry must
// never stall the loop.
func (e *Engine) publishSnapshot(ctx context.Context, now time.Time, phase string) {
	positions, err := e.store.FindByStatus(ctx, domain.NonTerminalStatuses()...)
	if err != nil {
		e.logger.Warn(ctx, "Snapshot query failed", map[string]interface{}{"error": err.Error()})
		positions = nil
	}

	e.mu.Lock()
	snap := domain.Snapshot{
		Time:            now,
		Phase:           phase,
		Positions:       make([]domain.SnapshotPosition, 0, len(positions)),
		Admitted:        e.counters.admitted,
		Filled:          e.counters.filled,
		Cancelled:       e.counters.cancelled,
		OrdersSubmitted: e.counters.ordersSubmitted,
		ClosedByReason:  make(map[domain.ExitReason]int, len(e.counters.closedByReason)),
	}
	for reason, n := range e.counters.closedByReason {
		snap.ClosedByReason[reason] = n
	}
	for _, pos := range positions {
		last := e.lastPrices[pos.Code]
		var pnl float64
		if last > 0 && pos.Status != domain.StatusPending {
			pnl = (last - pos.Entry) * float64(pos.Qty)
		}
		snap.Positions = append(snap.Positions, domain.SnapshotPosition{
			ID:            pos.ID,
			Code:          pos.Code,
			Name:          pos.Name,
			Status:        pos.Status,
			Qty:           pos.Qty,
			Entry:         pos.Entry,
			LastPrice:     last,
			UnrealizedPnL: pnl,
		})
		snap.TotalUnrealizedPnL += pnl
	}
	e.mu.Unlock()

	e.latest.Store(&snap)
	if e.sink != nil {
		e.sink.Publish(snap)
	}
}
