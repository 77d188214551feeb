package db

import (
	"fmt"
	"log"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/model"

	"gorm.io/gorm"
)

// Migrate runs database migrations for all models
func Migrate(db *gorm.DB) error {
	log.Println("Starting database migration...")

	models := []interface{}{
		&model.ServiceIdentity{},
		&model.AcmeAccount{},
		&model.CertificateOrder{},
		&model.CertificateRecord{},
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("✓ Database migration completed successfully (%d tables)", len(models))
	return nil
}
