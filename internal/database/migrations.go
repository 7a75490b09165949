package database

import (
	"gorm.io/gorm"

	"github.com/clearlane/onboard/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Tracker{},
		&models.VerificationCode{},
		&models.Session{},
		&models.AuditLog{},
	)
}
