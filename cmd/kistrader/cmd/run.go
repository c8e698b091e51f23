package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kistrader/config"
	"kistrader/internal/adapters/csvsignal"
	"kistrader/internal/adapters/kisclient"
	"kistrader/internal/adapters/logger"
	"kistrader/internal/adapters/metrics"
	"kistrader/internal/adapters/notify"
	"kistrader/internal/adapters/sqlite"
	"kistrader/internal/app"
	"kistrader/internal/ports"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading-day loop",
	Long: `Run the engine through one trading day: signal preload, admission at
the open, mid-session reconciliation and exit monitoring, forced closure
into the bell, and an observe-only end-of-day pass. The process exits on
its own at the configured exit time, or earlier on SIGINT/SIGTERM.`,
	RunE: runRun,
}

var runSignalsPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runSignalsPath, "signals", "s", "", "path to the day's candidate CSV (overrides SIGNALS_PATH)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runSignalsPath != "" {
		cfg.SignalsPath = runSignalsPath
	}
	if cfg.SignalsPath == "" {
		return fmt.Errorf("no signals file: set SIGNALS_PATH or pass --signals")
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		return fmt.Errorf("open position store: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing position store")
		}
	}()

	broker, err := kisclient.New(kisclient.Config{
		AppKey:    cfg.AppKey,
		AppSecret: cfg.AppSecret,
		AccountNo: cfg.AccountNo,
		BaseURL:   cfg.BaseURL,
		Virtual:   cfg.Virtual,
		Timeout:   cfg.HTTPTimeout,
		Logger:    appLogger,
	})
	if err != nil {
		return fmt.Errorf("create broker client: %w", err)
	}

	signals := &csvsignal.Loader{
		Path:     cfg.SignalsPath,
		Location: cfg.Location,
		Logger:   appLogger,
	}

	var notifier ports.Notifier = notify.NopNotifier{}
	if cfg.TelegramBotToken != "" {
		notifier = notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	}

	var sink ports.SnapshotSink
	if cfg.MetricsAddr != "" {
		publisher, handler := metrics.NewPublisher(appLogger)
		metrics.Serve(cfg.MetricsAddr, handler, appLogger)
		sink = publisher
	}

	engine, err := app.NewEngine(cfg, appLogger, broker, repo, signals, notifier, sink)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	appLogger.Info(ctx, "Starting trading-day loop", map[string]interface{}{
		"virtual": cfg.Virtual,
		"db":      cfg.DBPath,
		"signals": cfg.SignalsPath,
	})
	if err := engine.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
