package analytics

import (
	"sort"
	"time"

	"kistrader/internal/domain"
)

// Summary holds realized performance metrics over a set of closed positions.
type Summary struct {
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64

	GrossPnL     float64
	AverageWin   float64
	AverageLoss  float64
	ProfitFactor float64
	Expectancy   float64

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageHoldingDays   float64

	// Exit distribution: how trades ended, by reason.
	ByReason map[domain.ExitReason]int

	// Daily realized P&L keyed by close date (exchange-local YYYY-MM-DD).
	DailyPnL map[string]float64
}

// Analyze computes realized metrics from positions. Non-terminal and
// cancelled records are ignored: only CLOSED positions carry trade results.
func Analyze(positions []*domain.Position) *Summary {
	s := &Summary{
		ByReason: make(map[domain.ExitReason]int),
		DailyPnL: make(map[string]float64),
	}

	closed := make([]*domain.Position, 0, len(positions))
	for _, p := range positions {
		if p.Status == domain.StatusClosed {
			closed = append(closed, p)
		}
	}
	if len(closed) == 0 {
		return s
	}
	sort.Slice(closed, func(i, j int) bool {
		return closed[i].CloseTime.Before(closed[j].CloseTime)
	})

	var grossWins, grossLosses float64
	var holdingDays float64
	var consecWins, consecLosses int

	for _, p := range closed {
		s.TotalTrades++
		s.GrossPnL += p.GrossPnL
		holdingDays += p.HoldingDays
		s.ByReason[p.ExitReason]++
		s.DailyPnL[p.CloseTime.Format("2006-01-02")] += p.GrossPnL

		if p.GrossPnL > 0 {
			s.Wins++
			grossWins += p.GrossPnL
			consecWins++
			consecLosses = 0
			if consecWins > s.MaxConsecutiveWins {
				s.MaxConsecutiveWins = consecWins
			}
		} else {
			s.Losses++
			grossLosses += -p.GrossPnL
			consecLosses++
			consecWins = 0
			if consecLosses > s.MaxConsecutiveLosses {
				s.MaxConsecutiveLosses = consecLosses
			}
		}
	}

	s.WinRate = float64(s.Wins) / float64(s.TotalTrades) * 100.0
	s.AverageHoldingDays = holdingDays / float64(s.TotalTrades)
	if s.Wins > 0 {
		s.AverageWin = grossWins / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AverageLoss = grossLosses / float64(s.Losses)
	}
	if grossLosses > 0 {
		s.ProfitFactor = grossWins / grossLosses
	}
	s.Expectancy = s.GrossPnL / float64(s.TotalTrades)
	return s
}

// Between filters positions to those closed within [from, to).
func Between(positions []*domain.Position, from, to time.Time) []*domain.Position {
	out := make([]*domain.Position, 0, len(positions))
	for _, p := range positions {
		if p.CloseTime.IsZero() {
			continue
		}
		if !p.CloseTime.Before(from) && p.CloseTime.Before(to) {
			out = append(out, p)
		}
	}
	return out
}
