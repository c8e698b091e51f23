package app

import (
	"context"
	"fmt"
	"time"

	"kistrader/internal/domain"
)

// Daily phase labels, carried on the published snapshot.
const (
	PhaseIdle       = "idle"
	PhasePreload    = "preload"
	PhaseSession    = "session"
	PhaseClosing    = "closing"
	PhaseAfterClose = "after_close"
)

// dayState tracks which one-shot work has already run today.
type dayState struct {
	signals       []domain.Signal
	preloadDone   bool
	admissionDone bool
	eodDone       bool
	lastCheck     time.Time
	lastForce     time.Time
}

// Run drives the trading day: preload signals before the open, admit once at
// the open, reconcile and monitor through the session, force-close into the
// bell, take an observe-only pass after it, and exit at the configured time.
// Returns when the day is over or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info(ctx, "Engine starting", map[string]interface{}{
		"admission":   e.cfg.AdmissionTime.String(),
		"force_close": e.cfg.ForceCloseStart.String(),
		"exit":        e.cfg.ExitTime.String(),
	})

	day := &dayState{}
	for {
		select {
		case <-ctx.Done():
			e.logger.Info(ctx, "Engine stopping", map[string]interface{}{"reason": ctx.Err().Error()})
			return ctx.Err()
		default:
		}

		now := e.now()
		if !now.Before(e.cfg.ExitTime.On(now)) {
			e.logger.Info(ctx, "Trading day over, engine exiting", nil)
			return nil
		}

		phase := e.phase(now)
		if err := e.safeTick(ctx, now, phase, day); err != nil {
			e.logger.Error(ctx, err, "Loop iteration failed", map[string]interface{}{"phase": phase})
			e.sleep(ctx, e.cfg.LoopBackoff)
			continue
		}

		e.publishSnapshot(ctx, now, phase)
		e.sleep(ctx, e.cfg.PollInterval)
	}
}

// phase maps the wall clock onto the daily window the loop is in.
func (e *Engine) phase(now time.Time) string {
	switch {
	case !now.Before(e.cfg.MarketClose.On(now)):
		return PhaseAfterClose
	case !now.Before(e.cfg.ForceCloseStart.On(now)):
		return PhaseClosing
	case !now.Before(e.cfg.AdmissionTime.On(now)):
		return PhaseSession
	case !now.Before(e.cfg.PreloadStart.On(now)):
		return PhasePreload
	default:
		return PhaseIdle
	}
}

// safeTick runs one loop iteration, converting a panic into an error so a
// bad pass never takes the process down mid-session.
func (e *Engine) safeTick(ctx context.Context, now time.Time, phase string, day *dayState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s pass: %v", phase, r)
		}
	}()

	switch phase {
	case PhasePreload:
		e.preload(ctx, day)
	case PhaseSession:
		if !day.admissionDone {
			e.runAdmission(ctx, day)
		}
		if now.Sub(day.lastCheck) >= e.cfg.CheckInterval {
			day.lastCheck = now
			err = e.sessionPass(ctx, now, true)
		}
	case PhaseClosing:
		if now.Sub(day.lastCheck) >= e.cfg.CheckInterval {
			day.lastCheck = now
			if err = e.ConfirmPendingFills(ctx); err != nil {
				return err
			}
			if err = e.ExpireStalePending(ctx, now, true); err != nil {
				return err
			}
		}
		if now.Sub(day.lastForce) >= e.cfg.ForceCloseInterval {
			day.lastForce = now
			err = e.ForceClose(ctx, now)
		}
	case PhaseAfterClose:
		if !day.eodDone {
			day.eodDone = true
			err = e.sessionPass(ctx, now, false)
		}
	}
	return err
}

// preload loads the day's signals ahead of the open, retrying every loop
// iteration until a load succeeds.
func (e *Engine) preload(ctx context.Context, day *dayState) {
	if day.preloadDone {
		return
	}
	signals, err := e.signals.Load(ctx)
	if err != nil {
		e.logger.Warn(ctx, "Signal preload failed, will retry", map[string]interface{}{"error": err.Error()})
		return
	}
	day.signals = signals
	day.preloadDone = true
}

// runAdmission performs the one-shot morning admission, loading signals late
// if the preload window was missed. Admission runs at most once per day even
// when it fails; a second submission of the same batch is worse than none.
func (e *Engine) runAdmission(ctx context.Context, day *dayState) {
	day.admissionDone = true

	if !day.preloadDone {
		signals, err := e.signals.Load(ctx)
		if err != nil {
			e.logger.Error(ctx, err, "Signal load failed, no admission today", nil)
			e.notify(ctx, "Admission skipped", fmt.Sprintf("signal load failed: %v", err))
			return
		}
		day.signals = signals
		day.preloadDone = true
	}

	if len(day.signals) == 0 {
		e.logger.Info(ctx, "No candidates today", nil)
		return
	}
	if err := e.AdmitSignals(ctx, day.signals); err != nil {
		e.logger.Error(ctx, err, "Admission pass failed", nil)
		e.notify(ctx, "Admission failed", err.Error())
	}
}

// sessionPass runs the mid-session maintenance triple: confirm fills, expire
// stale entries, then evaluate exits.
func (e *Engine) sessionPass(ctx context.Context, now time.Time, submitOrders bool) error {
	if err := e.ConfirmPendingFills(ctx); err != nil {
		return err
	}
	if err := e.ExpireStalePending(ctx, now, submitOrders); err != nil {
		return err
	}
	return e.CheckOpenPositions(ctx, now, submitOrders)
}

// sleep pauses for d or until ctx is cancelled, whichever comes first.
func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
