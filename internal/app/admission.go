package app

import (
	"context"
	"fmt"
	"time"

	"kistrader/internal/domain"
	"kistrader/internal/ports"
)

// AdmitSignals runs the one-shot morning admission pass: walk the day's
// ranked candidates in order, skip those already represented by a live
// position or already accepted this batch, skip those the remaining cash
// cannot cover, and submit a tick-aligned limit buy for the rest. Each
// accepted candidate is persisted as PENDING before the next is considered.
func (e *Engine) AdmitSignals(ctx context.Context, signals []domain.Signal) error {
	now := e.now()

	cash, err := e.broker.GetCashBalance(ctx)
	if err != nil {
		return fmt.Errorf("admission: query cash balance: %w", err)
	}
	holdings, err := e.broker.GetHoldings(ctx)
	if err != nil {
		return fmt.Errorf("admission: query holdings: %w", err)
	}
	liveCodes, err := e.store.CodesByStatus(ctx, domain.NonTerminalStatuses()...)
	if err != nil {
		return fmt.Errorf("admission: query live positions: %w", err)
	}

	blocked := make(map[string]struct{}, len(liveCodes)+len(holdings))
	for _, code := range liveCodes {
		blocked[code] = struct{}{}
	}
	for code := range holdings {
		blocked[code] = struct{}{}
	}

	admitted := 0
	for _, sig := range signals {
		if sig.Side != domain.Buy {
			e.logger.Debug(ctx, "Skipping non-buy candidate", map[string]interface{}{"code": sig.Code, "side": string(sig.Side)})
			continue
		}
		if _, dup := blocked[sig.Code]; dup {
			e.logger.Info(ctx, "Skipping candidate, code already live", map[string]interface{}{"code": sig.Code})
			continue
		}
		if cost := sig.Cost(); cost > cash {
			e.logger.Info(ctx, "Skipping candidate, insufficient cash", map[string]interface{}{
				"code": sig.Code,
				"cost": cost,
				"cash": cash,
			})
			continue
		}

		price := domain.AlignToTick(sig.Entry, domain.Buy)
		ack, err := e.broker.SubmitLimitBuy(ctx, sig.Code, sig.Qty, price)
		if err != nil {
			e.logger.Error(ctx, err, "Entry order rejected, candidate skipped", map[string]interface{}{
				"code":  sig.Code,
				"qty":   sig.Qty,
				"price": price,
			})
			continue
		}
		e.countOrder()

		// The order is live at the broker from this point: reserve its budget
		// and block the code before anything else can fail.
		cash -= sig.Cost()
		blocked[sig.Code] = struct{}{}

		pos := positionFromSignal(sig, price, now, ack)
		id, err := e.store.Insert(ctx, pos)
		if err != nil {
			// The order is live but untracked; loud alert, manual cleanup.
			e.logger.Error(ctx, err, "Failed to persist pending position", map[string]interface{}{"code": sig.Code})
			e.notify(ctx, "Untracked order", fmt.Sprintf("%s qty=%d price=%d submitted but not recorded: %v", sig.Code, sig.Qty, price, err))
			continue
		}

		admitted++
		e.countAdmitted()

		e.logger.Info(ctx, "Candidate admitted", map[string]interface{}{
			"id":    id,
			"code":  sig.Code,
			"qty":   sig.Qty,
			"price": price,
		})
		e.notify(ctx, "Entry submitted", fmt.Sprintf("%s (%s) qty=%d limit=%d", sig.Code, sig.Name, sig.Qty, price))
	}

	e.logger.Info(ctx, "Admission pass complete", map[string]interface{}{
		"candidates": len(signals),
		"admitted":   admitted,
	})
	e.notify(ctx, "Admission complete", fmt.Sprintf("%d of %d candidates admitted", admitted, len(signals)))
	return nil
}

// positionFromSignal builds the PENDING record for an accepted candidate.
// Entry stores the tick-aligned price actually sent to the broker.
func positionFromSignal(sig domain.Signal, alignedPrice int64, now time.Time, ack *ports.OrderAck) *domain.Position {
	validUntil := sig.ValidUntil
	if validUntil.IsZero() {
		if days := domain.ParseHorizonDays(sig.Horizon); days > 0 {
			validUntil = domain.ValidUntilFromHorizon(now, days)
		}
	}
	return &domain.Position{
		Code:       sig.Code,
		Name:       sig.Name,
		Side:       domain.Buy,
		Qty:        sig.Qty,
		Entry:      float64(alignedPrice),
		TP:         sig.TP,
		SL:         sig.SL,
		OpenTime:   now,
		Status:     domain.StatusPending,
		Score:      sig.Score,
		RR:         sig.RR,
		Confidence: sig.Confidence,
		Horizon:    sig.Horizon,
		ValidUntil: validUntil,
		Note:       buildNote("from daily signal file", ack),
	}
}
