package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"kistrader/internal/domain"
)

func closedPosition(pnl, holdingDays float64, reason domain.ExitReason, closeTime time.Time) *domain.Position {
	return &domain.Position{
		Status:      domain.StatusClosed,
		GrossPnL:    pnl,
		HoldingDays: holdingDays,
		ExitReason:  reason,
		CloseTime:   closeTime,
	}
}

func TestAnalyze(t *testing.T) {
	day1 := time.Date(2026, 8, 28, 15, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)

	positions := []*domain.Position{
		closedPosition(70000, 0.25, domain.ReasonTakeProfit, day1),
		closedPosition(-30000, 0.10, domain.ReasonStopLoss, day1.Add(time.Hour)),
		closedPosition(-10000, 0.20, domain.ReasonForcedLimit, day2),
		closedPosition(20000, 0.30, domain.ReasonTakeProfit, day2.Add(time.Hour)),
		{Status: domain.StatusOpen, GrossPnL: 999999},
		{Status: domain.StatusCancelled},
	}

	s := Analyze(positions)
	assert.Equal(t, 4, s.TotalTrades, "only closed positions count")
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.InDelta(t, 50.0, s.WinRate, 0.001)
	assert.InDelta(t, 50000, s.GrossPnL, 0.001)
	assert.InDelta(t, 45000, s.AverageWin, 0.001)
	assert.InDelta(t, 20000, s.AverageLoss, 0.001)
	assert.InDelta(t, 2.25, s.ProfitFactor, 0.001)
	assert.InDelta(t, 12500, s.Expectancy, 0.001)
	assert.Equal(t, 2, s.ByReason[domain.ReasonTakeProfit])
	assert.Equal(t, 1, s.ByReason[domain.ReasonStopLoss])
	assert.Equal(t, 2, s.MaxConsecutiveLosses)
	assert.InDelta(t, 40000, s.DailyPnL["2026-08-28"], 0.001)
	assert.InDelta(t, 10000, s.DailyPnL["2026-08-31"], 0.001)
}

func TestAnalyze_Empty(t *testing.T) {
	s := Analyze(nil)
	assert.Equal(t, 0, s.TotalTrades)
	assert.Equal(t, 0.0, s.WinRate)
	assert.Empty(t, s.ByReason)
}

func TestBetween(t *testing.T) {
	day := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	positions := []*domain.Position{
		closedPosition(1, 0, domain.ReasonTakeProfit, day.Add(-time.Hour)),
		closedPosition(2, 0, domain.ReasonTakeProfit, day.Add(time.Hour)),
		closedPosition(3, 0, domain.ReasonTakeProfit, day.Add(25*time.Hour)),
		{Status: domain.StatusOpen},
	}

	got := Between(positions, day, day.Add(24*time.Hour))
	assert.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].GrossPnL)
}
