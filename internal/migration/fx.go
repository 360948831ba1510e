package migration

import (
	"strings"

	accountdomain "github.com/andora/tokenledger/internal/account/domain"
	agentdomain "github.com/andora/tokenledger/internal/agentconfig/domain"
	eventdomain "github.com/andora/tokenledger/internal/eventcache/domain"
	usagedomain "github.com/andora/tokenledger/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		// The versioned SQL path is postgres-only; sqlite and mysql
		// deployments get the gorm-derived schema instead.
		if !strings.EqualFold(conn.Dialector.Name(), "postgres") {
			return conn.AutoMigrate(
				&accountdomain.User{},
				&accountdomain.Brand{},
				&usagedomain.UsageRecord{},
				&agentdomain.AgentConfiguration{},
				&agentdomain.AgentPrompt{},
				&agentdomain.AgentPerformance{},
				&eventdomain.EventCacheEntry{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
