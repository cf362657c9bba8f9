package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/vidaalinhada/alinhada/internal/config"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// The embedded migrations are postgres SQL; sqlite is only used
		// by tests, which create their schema by hand.
		if cfg.DBType != "postgres" {
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		return RunMigrations(sqlDB)
	}),
)
