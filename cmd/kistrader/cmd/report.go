package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"kistrader/config"
	"kistrader/internal/adapters/logger"
	"kistrader/internal/adapters/sqlite"
	"kistrader/internal/analytics"
	"kistrader/internal/domain"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize realized performance",
	Long:  `Summarize realized performance over the closed positions in the local database.`,
	RunE:  runReport,
}

var reportDays int

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().IntVarP(&reportDays, "days", "d", 0, "only positions closed in the last N days (0 = all)")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	appLogger := logger.NewStdLogger(logger.LevelError)

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		return fmt.Errorf("open position store: %w", err)
	}
	defer repo.Close()

	positions, err := repo.FindAll(context.Background())
	if err != nil {
		return fmt.Errorf("query positions: %w", err)
	}
	if reportDays > 0 {
		now := time.Now().In(cfg.Location)
		positions = analytics.Between(positions, now.AddDate(0, 0, -reportDays), now)
	}

	s := analytics.Analyze(positions)
	if s.TotalTrades == 0 {
		fmt.Println("no closed positions")
		return nil
	}

	fmt.Printf("Trades:            %d (%d wins / %d losses, %.1f%% win rate)\n",
		s.TotalTrades, s.Wins, s.Losses, s.WinRate)
	fmt.Printf("Gross P&L:         %.0f\n", s.GrossPnL)
	fmt.Printf("Average win/loss:  %.0f / %.0f\n", s.AverageWin, s.AverageLoss)
	if s.ProfitFactor > 0 {
		fmt.Printf("Profit factor:     %.2f\n", s.ProfitFactor)
	}
	fmt.Printf("Expectancy:        %.0f per trade\n", s.Expectancy)
	fmt.Printf("Streaks:           %d wins / %d losses\n", s.MaxConsecutiveWins, s.MaxConsecutiveLosses)
	fmt.Printf("Avg holding:       %.2f days\n", s.AverageHoldingDays)

	fmt.Println("\nExits by reason:")
	reasons := make([]string, 0, len(s.ByReason))
	for r := range s.ByReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Printf("  %-24s %d\n", r, s.ByReason[domain.ExitReason(r)])
	}

	fmt.Println("\nDaily P&L:")
	days := make([]string, 0, len(s.DailyPnL))
	for d := range s.DailyPnL {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		fmt.Printf("  %s  %+.0f\n", d, s.DailyPnL[d])
	}
	return nil
}
