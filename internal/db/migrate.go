package db

import (
	"mavedb/internal/domain"

	"gorm.io/gorm"
)

// Migrate runs database migrations
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.PermissionGroup{},
		&domain.PermissionGroupMember{},
		&domain.PermissionGroupCapability{},
		&domain.ExperimentSet{},
		&domain.Experiment{},
		&domain.ScoreSet{},
		&domain.Variant{},
		&domain.TaskFailure{},
	)
}
