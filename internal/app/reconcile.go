package app

import (
	"context"
	"fmt"
	"time"

	"kistrader/internal/domain"
	"kistrader/internal/ports"
)

// ConfirmPendingFills promotes PENDING positions whose code now appears in
// the broker's holdings. Quantity and entry are overwritten with the
// broker-reported fill; the requested values only survive when the broker
// report is unusable.
func (e *Engine) ConfirmPendingFills(ctx context.Context) error {
	pending, err := e.store.FindByStatus(ctx, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("reconcile: query pending positions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	holdings, err := e.broker.GetHoldings(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: query holdings: %w", err)
	}

	for _, pos := range pending {
		h, held := holdings[pos.Code]
		if !held {
			continue
		}

		qty := h.Qty
		if qty <= 0 {
			qty = pos.Qty
		}
		entry := h.AvgPrice
		if entry <= 0 {
			entry = pos.Entry
		}

		if err := e.store.ConfirmFill(ctx, pos.ID, qty, entry); err != nil {
			e.logger.Error(ctx, err, "Failed to confirm fill", map[string]interface{}{"id": pos.ID, "code": pos.Code})
			continue
		}
		e.countFilled()
		e.logger.Info(ctx, "Fill confirmed", map[string]interface{}{
			"id":    pos.ID,
			"code":  pos.Code,
			"qty":   qty,
			"entry": entry,
		})
		e.notify(ctx, "Fill confirmed", fmt.Sprintf("%s (%s) qty=%d avg=%.0f", pos.Code, pos.Name, qty, entry))
	}
	return nil
}

// ExpireStalePending cancels PENDING positions whose horizon has passed.
// Broker-side cancellation is attempted when cancelOrders is set, the gateway
// supports it and an order reference survives in the note, but the local
// transition to CANCELLED happens regardless: a stale record must never block
// the code. The end-of-day pass disables cancelOrders along with every other
// outbound order.
func (e *Engine) ExpireStalePending(ctx context.Context, now time.Time, cancelOrders bool) error {
	pending, err := e.store.FindByStatus(ctx, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("reconcile: query pending positions: %w", err)
	}

	for _, pos := range pending {
		if !pos.HorizonExpired(now) {
			continue
		}

		note := "expired unfilled"
		if canceller, supported := e.broker.(ports.OrderCanceller); supported && cancelOrders {
			if orderID := extractOrderID(pos.Note); orderID != "" {
				if err := canceller.CancelOrder(ctx, orderID); err != nil {
					e.logger.Warn(ctx, "Broker cancel failed, marking cancelled locally", map[string]interface{}{
						"id":       pos.ID,
						"code":     pos.Code,
						"order_id": orderID,
						"error":    err.Error(),
					})
					note = "expired unfilled; broker cancel failed"
				}
			} else {
				e.logger.Warn(ctx, "No order reference on expired pending position", map[string]interface{}{"id": pos.ID, "code": pos.Code})
			}
		}

		if err := e.store.MarkCancelled(ctx, pos.ID, now, domain.ReasonCancelledExpired, note); err != nil {
			e.logger.Error(ctx, err, "Failed to mark position cancelled", map[string]interface{}{"id": pos.ID, "code": pos.Code})
			continue
		}
		e.countCancelled()
		e.logger.Info(ctx, "Pending position expired", map[string]interface{}{"id": pos.ID, "code": pos.Code})
		e.notify(ctx, "Entry expired", fmt.Sprintf("%s (%s) unfilled past horizon, cancelled", pos.Code, pos.Name))
	}
	return nil
}
