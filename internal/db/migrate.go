package db

import (
	"fmt"
	"log"

	"certhub/internal/model"

	"gorm.io/gorm"
)

// Migrate runs database migrations for all models
func Migrate(db *gorm.DB) error {
	log.Println("Starting database migration...")

	// List of all models to migrate
	models := []interface{}{
		&model.User{},
		&model.CertificateAuthority{},
		&model.AcmeAccount{},
		&model.ManagedCertificate{},
		&model.RenewalAttempt{},
		&model.DNSChallengeRecord{},
	}

	// Run AutoMigrate for all models
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("✓ Database migration completed successfully (%d tables)", len(models))
	return nil
}
