package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/thedusen/booksphere-web-sub002/internal/config"
	"github.com/thedusen/booksphere-web-sub002/internal/db"
	"github.com/thedusen/booksphere-web-sub002/internal/logger"
	"github.com/thedusen/booksphere-web-sub002/internal/metrics"
	"github.com/thedusen/booksphere-web-sub002/internal/repository"
	"github.com/thedusen/booksphere-web-sub002/internal/worker"
)

var deadletterCmd = &cobra.Command{
	Use:   "deadletter",
	Short: "Run the dead-letter manager (quarantine events past the retry ceiling)",
	RunE:  runDeadLetter,
}

func runDeadLetter(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.Log.Level)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	m := worker.NewDeadLetterManager(
		repository.NewDeadLetterRepository(dbx),
		logger.L(),
	)

	if cfg.Retry.MaxAttempts > 0 {
		m.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.MigrateBatch > 0 {
		m.Batch = cfg.Retry.MigrateBatch
	}
	if cfg.Retry.MigrateInterval > 0 {
		m.Interval = cfg.Retry.MigrateInterval
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> dead-letter manager started maxAttempts=%d batch=%d interval=%s",
		m.MaxAttempts, m.Batch, m.Interval)

	return m.Run(ctx)
}
