package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamilpajak/opsdiag/pkg/models"
)

// testDB returns a migrated DB or skips if DATABASE_URL is not set.
func testDB(t *testing.T) *DB {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	require.NoError(t, Migrate(dbURL))

	db, err := New(context.Background(), dbURL)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

// uniqueRecordID keeps parallel runs against a shared database apart.
func uniqueRecordID() int64 {
	return time.Now().UnixNano()
}

func TestMigrations(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	// idempotent; MigrateDown is left out as it interferes with parallel packages
	require.NoError(t, Migrate(dbURL))
	require.NoError(t, Migrate(dbURL))
}

func TestFeedbackJournal(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	id := uniqueRecordID()

	require.NoError(t, db.RecordFeedback(ctx, id, models.FeedbackRequest{
		FeedbackType: models.FeedbackConfirmed,
		IterationNo:  1,
	}, models.StatusCompleted))
	require.NoError(t, db.RecordFeedback(ctx, id, models.FeedbackRequest{
		FeedbackType:  models.FeedbackContinueInvestigation,
		FeedbackNotes: "check the sidecar",
		IterationNo:   2,
	}, models.StatusPendingNext))

	entries, err := db.ListFeedback(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, id, entries[0].RecordID)
	assert.NotEmpty(t, entries[0].ID)

	latest, err := db.ListFeedback(ctx, id, 1)
	require.NoError(t, err)
	assert.Len(t, latest, 1)

	none, err := db.ListFeedback(ctx, id+1, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTransitionJournal(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	id := uniqueRecordID()

	require.NoError(t, db.RecordTransition(ctx, id, models.StatusPending, models.StatusRunning))

	transitions, err := db.ListTransitions(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, models.StatusPending, transitions[0].From)
	assert.Equal(t, models.StatusRunning, transitions[0].To)
	assert.WithinDuration(t, time.Now(), transitions[0].ObservedAt, time.Minute)
}
