package migration

import (
	eventlogdomain "github.com/stackfleet/conductor/internal/eventlog/domain"
	quotadomain "github.com/stackfleet/conductor/internal/quota/domain"
	resourcedomain "github.com/stackfleet/conductor/internal/resource/domain"
	structuredomain "github.com/stackfleet/conductor/internal/structure/domain"
	"github.com/stackfleet/conductor/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// golang-migrate is wired for postgres; other dialects are for
			// local/dev installs where AutoMigrate is good enough.
			return conn.AutoMigrate(
				&structuredomain.Customer{},
				&structuredomain.Project{},
				&structuredomain.CustomerMember{},
				&resourcedomain.ServiceProjectLink{},
				&resourcedomain.Resource{},
				&quotadomain.Quota{},
				&eventlogdomain.Event{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
