package store

import (
	"gorm.io/gorm"
)

// Schema changes that also need code to run over existing rows live
// here. Each script is a function that accepts a DB connection; scripts
// must be idempotent because they run on every startup after
// AutoMigrate.

func backfillLastActivity(gdb *gorm.DB) error {
	// Rows written before last_activity_at existed fall back to the
	// session start, matching what the timeout logic assumes.
	return gdb.Exec(`
		UPDATE sessions
		SET last_activity_at = started_at
		WHERE last_activity_at IS NULL OR last_activity_at = '0001-01-01 00:00:00'
	`).Error
}

var MIGRATION_SCRIPTS = map[string]func(*gorm.DB) error{
	"01_backfill_last_activity": backfillLastActivity,
}
