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

var prunerCmd = &cobra.Command{
	Use:   "pruner",
	Short: "Run the retention pruner (delete delivered events past the window)",
	RunE:  runPruner,
}

func runPruner(cmd *cobra.Command, args []string) error {
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

	p := worker.NewPruner(
		repository.NewOutboxRepository(dbx),
		repository.NewDeadLetterRepository(dbx),
		logger.L(),
	)

	if cfg.Retention.Window > 0 {
		p.Retention = cfg.Retention.Window
	}
	if cfg.Retention.DeadLetterWindow > 0 {
		p.DeadLetterRetention = cfg.Retention.DeadLetterWindow
	}
	if cfg.Retention.MaxBatch > 0 {
		p.MaxBatch = cfg.Retention.MaxBatch
	}
	if cfg.Retention.Interval > 0 {
		p.Interval = cfg.Retention.Interval
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> pruner started retention=%s maxBatch=%d interval=%s",
		p.Retention, p.MaxBatch, p.Interval)

	return p.Run(ctx)
}
