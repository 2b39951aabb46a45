package testutil

import (
	"testing"

	"fg-go/internal/database"
)

// NewTestJournal creates an in-memory, fully migrated operation journal.
// It is closed when the test completes.
func NewTestJournal(t *testing.T) *database.SQLiteJournal {
	t.Helper()

	j, err := database.NewSQLiteJournal(":memory:")
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}
