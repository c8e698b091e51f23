package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kistrader/config"
	"kistrader/internal/adapters/logger"
	"kistrader/internal/adapters/sqlite"
	"kistrader/internal/domain"
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List recorded positions",
	Long:  `List the positions in the local database, newest first.`,
	RunE:  runPositions,
}

var positionsLive bool

func init() {
	rootCmd.AddCommand(positionsCmd)

	positionsCmd.Flags().BoolVarP(&positionsLive, "live", "l", false, "only non-terminal positions (PENDING, OPEN, EXPIRED)")
}

func runPositions(cmd *cobra.Command, args []string) error {
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

	ctx := context.Background()
	var positions []*domain.Position
	if positionsLive {
		positions, err = repo.FindByStatus(ctx, domain.NonTerminalStatuses()...)
	} else {
		positions, err = repo.FindAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("query positions: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCODE\tNAME\tSTATUS\tQTY\tENTRY\tEXIT\tREASON\tPNL\tOPENED")
	for _, p := range positions {
		exit := "-"
		if p.ExitPrice > 0 {
			exit = fmt.Sprintf("%.0f", p.ExitPrice)
		}
		reason := string(p.ExitReason)
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%.0f\t%s\t%s\t%.0f\t%s\n",
			p.ID, p.Code, p.Name, p.Status, p.Qty, p.Entry, exit, reason, p.GrossPnL,
			p.OpenTime.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
