package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kistrader/internal/domain"
	"kistrader/internal/ports"
)

// CheckOpenPositions evaluates every OPEN position against its exit rules.
// Take-profit outranks stop-loss when a single price satisfies both; the
// horizon only expires positions that triggered neither. With submitOrders
// false the pass is observe-only: triggers are logged and the horizon may
// still move state to EXPIRED, but no sell order leaves the process.
func (e *Engine) CheckOpenPositions(ctx context.Context, now time.Time, submitOrders bool) error {
	open, err := e.store.FindByStatus(ctx, domain.StatusOpen)
	if err != nil {
		return fmt.Errorf("monitor: query open positions: %w", err)
	}
	if len(open) == 0 {
		return nil
	}

	var holdings map[string]ports.Holding
	if submitOrders {
		holdings, err = e.broker.GetHoldings(ctx)
		if err != nil {
			return fmt.Errorf("monitor: query holdings: %w", err)
		}
	}

	for _, pos := range open {
		e.checkOne(ctx, pos, holdings, now, submitOrders)
	}
	return nil
}

func (e *Engine) checkOne(ctx context.Context, pos *domain.Position, holdings map[string]ports.Holding, now time.Time, submitOrders bool) {
	if !e.tryAcquire(pos.ID) {
		return
	}
	defer e.release(pos.ID)

	price, err := e.broker.GetQuote(ctx, pos.Code)
	if err != nil {
		if errors.Is(err, ports.ErrQuoteUnavailable) {
			e.logger.Warn(ctx, "Quote unavailable, position skipped this pass", map[string]interface{}{"id": pos.ID, "code": pos.Code})
		} else {
			e.logger.Error(ctx, err, "Quote query failed", map[string]interface{}{"id": pos.ID, "code": pos.Code})
		}
		return
	}
	if price <= 0 {
		return
	}
	e.recordPrice(pos.Code, price)

	reason := exitTrigger(pos, price)
	if reason == "" {
		if pos.HorizonExpired(now) {
			if err := e.store.UpdateStatus(ctx, pos.ID, domain.StatusExpired); err != nil {
				e.logger.Error(ctx, err, "Failed to mark position expired", map[string]interface{}{"id": pos.ID, "code": pos.Code})
				return
			}
			e.logger.Info(ctx, "Position horizon expired", map[string]interface{}{"id": pos.ID, "code": pos.Code})
		}
		return
	}

	if !submitOrders {
		e.logger.Info(ctx, "Exit trigger observed, order suppressed", map[string]interface{}{
			"id":     pos.ID,
			"code":   pos.Code,
			"reason": string(reason),
			"price":  price,
		})
		return
	}

	h, held := holdings[pos.Code]
	if !held || h.Qty <= 0 {
		e.logger.Warn(ctx, "Exit trigger but no broker-side holding, skipped", map[string]interface{}{"id": pos.ID, "code": pos.Code})
		return
	}
	qty := pos.Qty
	if h.Qty < qty {
		qty = h.Qty
	}

	if _, err := e.broker.SubmitMarketSell(ctx, pos.Code, qty); err != nil {
		e.logger.Error(ctx, err, "Exit order failed, will retry next pass", map[string]interface{}{
			"id":     pos.ID,
			"code":   pos.Code,
			"reason": string(reason),
		})
		return
	}
	e.countOrder()

	if err := e.store.ClosePosition(ctx, pos.ID, price, now, reason); err != nil {
		e.logger.Error(ctx, err, "Exit submitted but close not recorded", map[string]interface{}{"id": pos.ID, "code": pos.Code})
		return
	}
	e.countClosed(reason)
	e.logger.Info(ctx, "Position closed", map[string]interface{}{
		"id":     pos.ID,
		"code":   pos.Code,
		"reason": string(reason),
		"price":  price,
	})
	e.notify(ctx, "Position closed", fmt.Sprintf("%s (%s) %s at %.0f", pos.Code, pos.Name, reason, price))
}

// exitTrigger returns the exit reason the current price fires, or "" when
// neither rule triggers. Take-profit is checked first.
func exitTrigger(pos *domain.Position, price float64) domain.ExitReason {
	if pos.TP != nil && price >= *pos.TP {
		return domain.ReasonTakeProfit
	}
	if pos.SL != nil && price <= *pos.SL {
		return domain.ReasonStopLoss
	}
	return ""
}
