// Package testing provides test fixtures and a file-backed SQLite
// database harness for the matching engine's test suites.
package testing

import (
	"fmt"
	"os"
	"testing"

	"github.com/rnrl/matchengine/internal/database"
	_ "modernc.org/sqlite"
)

// NewTestDB creates a file-backed SQLite database with the named
// profile, migrates it, and returns a cleanup function that closes the
// connection and removes the file. Tests use a real file rather than
// ":memory:" so the three logical databases (core/ledger/cache)
// migrate against the same schema loader the server uses.
func NewTestDB(t *testing.T, name string, profile database.DatabaseProfile) (*database.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{Path: tmpPath, Profile: profile, Name: name})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("failed to open test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("failed to migrate test database %s: %v", name, err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("warning: failed to close test database %s: %v", name, err)
		}
		if err := os.Remove(tmpPath); err != nil {
			t.Logf("warning: failed to remove temporary database file %s: %v", tmpPath, err)
		}
	}
}

// NewCoreTestDB, NewLedgerTestDB and NewCacheTestDB are convenience
// wrappers around NewTestDB for the three profiles the store package
// expects, matching the triple wired by internal/di.Container.
func NewCoreTestDB(t *testing.T) (*database.DB, func()) {
	t.Helper()
	return NewTestDB(t, "core", database.ProfileStandard)
}

func NewLedgerTestDB(t *testing.T) (*database.DB, func()) {
	t.Helper()
	return NewTestDB(t, "ledger", database.ProfileLedger)
}

func NewCacheTestDB(t *testing.T) (*database.DB, func()) {
	t.Helper()
	return NewTestDB(t, "cache", database.ProfileCache)
}
