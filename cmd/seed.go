package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/thedusen/booksphere-web-sub002/internal/config"
	"github.com/thedusen/booksphere-web-sub002/internal/db"
	"github.com/thedusen/booksphere-web-sub002/internal/model"
	"github.com/thedusen/booksphere-web-sub002/internal/repository"
	"github.com/thedusen/booksphere-web-sub002/internal/service/outbox"
)

var (
	seedOrgs   int
	seedEvents int
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the outbox with demo events (dev only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Printf(">> Seeding %d events for each of %d organizations...", seedEvents, seedOrgs)

		if err := seedOutbox(sqlDB, seedOrgs, seedEvents); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedOrgs, "orgs", 3, "number of demo organizations")
	seedCmd.Flags().IntVar(&seedEvents, "events", 50, "events per organization")
	rootCmd.AddCommand(seedCmd)
}

// seedOutbox writes demo stock_item events through the real writer so the
// seeded rows exercise the same validation and transaction path.
func seedOutbox(dbx *sqlx.DB, orgs, events int) error {
	writer := outbox.NewWriter(dbx, repository.NewOutboxRepository(dbx))

	types := []model.EventType{model.EventCreated, model.EventUpdated, model.EventDeleted}

	for org := int64(1); org <= int64(orgs); org++ {
		err := writer.WithMutation(context.Background(), func(tx *sqlx.Tx) ([]model.Event, error) {
			evts := make([]model.Event, 0, events)
			for i := 0; i < events; i++ {
				payload, err := json.Marshal(map[string]any{
					"stock_item_id": fmt.Sprintf("demo-%d-%d", org, i),
					"status":        "cataloged",
				})
				if err != nil {
					return nil, err
				}
				evts = append(evts, outbox.NewEvent(
					org,
					types[i%len(types)],
					"stock_item",
					fmt.Sprintf("demo-%d-%d", org, i),
					payload,
				))
			}
			return evts, nil
		})
		if err != nil {
			return fmt.Errorf("seed org %d: %w", org, err)
		}
	}
	return nil
}
