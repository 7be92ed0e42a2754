package repositories

import (
	"github.com/anonto42/nano-midea/fanout/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the PostgreSQL tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.FeedEntry{},
		&models.Follow{},
	)
}
