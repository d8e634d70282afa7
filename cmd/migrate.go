package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/thedusen/booksphere-web-sub002/internal/config"
	"github.com/thedusen/booksphere-web-sub002/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations (dev: DROP & CREATE tables)",
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
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		// lexicographic order, so files are named 001_, 002_, ...
		files, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no migration files under migrations/")
		}
		sort.Strings(files)

		// needs multiStatements=true in the DSN
		for _, f := range files {
			sqlBytes, err := os.ReadFile(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", f, err)
			}
			if _, err := sqlDB.Exec(string(sqlBytes)); err != nil {
				return fmt.Errorf("apply %s: %w", f, err)
			}
			fmt.Printf(">> Applied %s\n", f)
		}

		return nil
	},
}
