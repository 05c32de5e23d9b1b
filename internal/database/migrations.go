package database

import (
	"context"

	"gorm.io/gorm"

	"github.com/zeh237/taskly/internal/models"
)

// SchemaVersion is bumped whenever a migration changes existing data.
const SchemaVersion = "1"

// SchemaVersionSetting is the system setting key recording the applied schema version.
const SchemaVersionSetting = "schema.version"

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.Project{},
		&models.Membership{},
		&models.Invitation{},
		&models.Task{},
		&models.Session{},
		&models.AuditLog{},
		&models.CacheEntry{},
		&models.SystemSetting{},
	)
}

// SeedData records the schema version so operators can tell which layout a database has.
func SeedData(db *gorm.DB) error {
	return UpsertSystemSetting(context.Background(), db, SchemaVersionSetting, SchemaVersion)
}
