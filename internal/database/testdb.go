package database

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB creates a fresh SQLite database file with the schema applied.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.sqlite3")
	db, err := Open(sqlite.Open(path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)

	if err := Migrate(db); err != nil {
		t.Fatalf("creating test database schema: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}
