package testutil

import (
	"fmt"
	"testing"

	"gorm.io/gorm"

	"slotwise-platform/pkg/db"
)

// NewTestDB opens an in-memory SQLite database scoped to the test name,
// migrates the given models and closes the connection when the test ends.
// The pool is pinned to a single connection so concurrent transactions
// serialize instead of fighting over the shared cache.
func NewTestDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := db.NewTest(dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if len(models) > 0 {
		if err := gdb.AutoMigrate(models...); err != nil {
			t.Fatalf("failed to migrate test database: %v", err)
		}
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB from gorm: %v", err)
	}

	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return gdb
}
