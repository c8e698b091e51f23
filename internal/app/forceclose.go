package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"kistrader/internal/domain"
)

// ForceClose runs one pass of the closing-window liquidation. Every OPEN or
// EXPIRED position must be flat by market close; the pass sells at the best
// bid while it sits inside the acceptable band, clamps a low bid to the band
// floor once the hard deadline has passed, and falls back to market orders
// at the final deadline. EXPIRED positions go first, they have waited
// longest.
func (e *Engine) ForceClose(ctx context.Context, now time.Time) error {
	positions, err := e.store.FindByStatus(ctx, domain.StatusOpen, domain.StatusExpired)
	if err != nil {
		return fmt.Errorf("forceclose: query positions: %w", err)
	}
	if len(positions) == 0 {
		return nil
	}

	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].Status == domain.StatusExpired && positions[j].Status != domain.StatusExpired
	})

	holdings, err := e.broker.GetHoldings(ctx)
	if err != nil {
		return fmt.Errorf("forceclose: query holdings: %w", err)
	}

	hardDeadline := e.cfg.HardDeadline.On(now)
	marketDeadline := e.cfg.MarketDeadline.On(now)

	for _, pos := range positions {
		if pos.Side != domain.Buy || pos.Qty <= 0 {
			continue
		}
		h, held := holdings[pos.Code]
		if !held || h.Qty <= 0 {
			e.logger.Warn(ctx, "Forced closure target not held, skipped", map[string]interface{}{"id": pos.ID, "code": pos.Code})
			continue
		}
		qty := pos.Qty
		if h.Qty < qty {
			qty = h.Qty
		}
		if !e.tryAcquire(pos.ID) {
			continue
		}
		e.forceCloseOne(ctx, pos, qty, now, hardDeadline, marketDeadline)
		e.release(pos.ID)
	}
	return nil
}

func (e *Engine) forceCloseOne(ctx context.Context, pos *domain.Position, qty int64, now, hardDeadline, marketDeadline time.Time) {
	bid, err := e.broker.GetBestBid(ctx, pos.Code)
	if err != nil {
		e.logger.Warn(ctx, "Best bid unavailable", map[string]interface{}{"id": pos.ID, "code": pos.Code, "error": err.Error()})
		bid = 0
	}
	if bid > 0 {
		e.recordPrice(pos.Code, bid)
	}

	// Final deadline: liquidity over price.
	if !now.Before(marketDeadline) {
		if _, err := e.broker.SubmitMarketSell(ctx, pos.Code, qty); err != nil {
			e.logger.Error(ctx, err, "Market-order liquidation failed", map[string]interface{}{"id": pos.ID, "code": pos.Code})
			return
		}
		e.countOrder()
		// The fill price is unknown until reconciled; record the best price
		// observed today, entry as the final fallback, never zero.
		px := bid
		if px <= 0 {
			px = e.lastPrice(pos.Code)
		}
		if px <= 0 {
			px = pos.Entry
		}
		e.closeForced(ctx, pos, px, now, domain.ReasonForcedMarket)
		return
	}

	if bid <= 0 {
		e.logger.Warn(ctx, "No usable bid, holding until next pass", map[string]interface{}{"id": pos.ID, "code": pos.Code})
		return
	}

	limitPx := bid
	if lo, hi, banded := forceBand(pos.Entry, pos.TP, pos.SL); banded {
		if now.Before(hardDeadline) {
			if bid < lo || bid > hi {
				e.logger.Info(ctx, "Bid outside band, holding", map[string]interface{}{
					"id":   pos.ID,
					"code": pos.Code,
					"bid":  bid,
					"lo":   lo,
					"hi":   hi,
				})
				return
			}
		} else if bid < lo {
			// Past the hard deadline a weak bid no longer blocks the exit,
			// but the order still asks for the band floor.
			limitPx = lo
		}
	}

	px := domain.AlignToTick(limitPx, domain.Sell)
	if _, err := e.broker.SubmitLimitSell(ctx, pos.Code, qty, px); err != nil {
		e.logger.Error(ctx, err, "Limit liquidation failed", map[string]interface{}{"id": pos.ID, "code": pos.Code, "price": px})
		return
	}
	e.countOrder()
	e.closeForced(ctx, pos, bid, now, domain.ReasonForcedLimit)
}

func (e *Engine) closeForced(ctx context.Context, pos *domain.Position, price float64, now time.Time, reason domain.ExitReason) {
	if err := e.store.ClosePosition(ctx, pos.ID, price, now, reason); err != nil {
		e.logger.Error(ctx, err, "Liquidation submitted but close not recorded", map[string]interface{}{"id": pos.ID, "code": pos.Code})
		return
	}
	e.countClosed(reason)
	e.logger.Info(ctx, "Position force-closed", map[string]interface{}{
		"id":     pos.ID,
		"code":   pos.Code,
		"reason": string(reason),
		"price":  price,
	})
	e.notify(ctx, "Forced closure", fmt.Sprintf("%s (%s) %s at %.0f", pos.Code, pos.Name, reason, price))
}

// forceBand derives the acceptable sell band from the entry and targets:
// halfway from entry toward the stop on the low side, halfway toward the
// target on the high side. Positions missing either target have no band.
func forceBand(entry float64, tp, sl *float64) (lo, hi float64, ok bool) {
	if tp == nil || sl == nil {
		return 0, 0, false
	}
	hi = entry + (*tp-entry)/2
	lo = entry - (entry-*sl)/2
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi, true
}
