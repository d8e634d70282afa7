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

	"github.com/thedusen/booksphere-web-sub002/internal/broadcast"
	"github.com/thedusen/booksphere-web-sub002/internal/config"
	"github.com/thedusen/booksphere-web-sub002/internal/db"
	"github.com/thedusen/booksphere-web-sub002/internal/logger"
	"github.com/thedusen/booksphere-web-sub002/internal/metrics"
	"github.com/thedusen/booksphere-web-sub002/internal/repository"
	"github.com/thedusen/booksphere-web-sub002/internal/worker"
)

var dispatcherCmd = &cobra.Command{
	Use:   "dispatcher",
	Short: "Run the event processor (poll outbox, publish, advance cursors)",
	RunE:  runDispatcher,
}

func runDispatcher(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.Log.Level)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) DB connection (MySQL)
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

	// 3) broadcast backend
	bc, err := newBroadcaster(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = bc.Close() }()

	// 4) worker
	store := repository.NewDeliveryStore(dbx)
	if cfg.Retry.MaxAttempts > 0 {
		store.MaxAttempts = cfg.Retry.MaxAttempts
	}
	d := worker.NewDispatcher(store, bc, logger.L(), cfg.Dispatcher.ProcessorName)

	// tune knobs
	if cfg.Dispatcher.BatchSize > 0 {
		d.BatchSize = cfg.Dispatcher.BatchSize
	}
	if cfg.Dispatcher.PollInterval > 0 {
		d.PollInterval = cfg.Dispatcher.PollInterval
	}
	if cfg.Dispatcher.Workers > 0 {
		d.Workers = cfg.Dispatcher.Workers
	}

	// 5) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> dispatcher started processor=%s backend=%s batchSize=%d pollInterval=%s workers=%d",
		cfg.Dispatcher.ProcessorName, bc.Backend(), d.BatchSize, d.PollInterval, d.Workers)

	return d.Run(ctx)
}

// newBroadcaster selects the fan-out transport from config.
func newBroadcaster(cfg config.Config) (broadcast.Broadcaster, error) {
	switch cfg.Broadcast.Backend {
	case "", "redis":
		rdb, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		return broadcast.NewRedisBroadcaster(rdb, cfg.Broadcast.ChannelPrefix), nil
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
			return nil, fmt.Errorf("kafka backend requires brokers and topic")
		}
		return broadcast.NewKafkaBroadcaster(broadcast.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown broadcast backend %q", cfg.Broadcast.Backend)
	}
}
