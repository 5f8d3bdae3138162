package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/roamwire/roamwire/app/models"
	"github.com/roamwire/roamwire/internal/pkg/config"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// GormConfig keeps every timestamp in UTC so stored expiries compare correctly
// and maps driver unique violations to gorm.ErrDuplicatedKey.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	}
}

func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.Host,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.Port,
		cfg.SSLMode,
	)
}

func SetupDatabase(cfg config.DatabaseConfig) *gorm.DB {
	var err error
	dsn := DSN(cfg)

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(postgres.Open(dsn), GormConfig())
		if err == nil {
			if cfg.AutoMigrate {
				if err = Migrate(DB); err != nil {
					panic(err)
				}
			}
			return DB
		}

		log.Warnf("[Database] failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	panic(err)
}

// Migrate creates or updates every table. SQL migrations under migrations/
// remain the source of truth in production.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(models.All()...)
}
