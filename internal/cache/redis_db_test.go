//go:build db

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamilpajak/opsdiag/pkg/models"
)

// Live Redis/Valkey test, runs only when REDIS_ADDR is set.
func TestRedisStore_DB(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping DB test")
	}

	store, err := NewRedisStore(addr, 0, os.Getenv("REDIS_PASSWORD"), 2*time.Second, nil)
	require.NoError(t, err)
	defer store.Close()
	store.key = "opsdiag:test:" + t.Name()

	ctx := context.Background()
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, store.Save(ctx, &models.Page{Items: []models.DiagnosisRecord{{ID: 3}}, Total: 1}))
	page, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Items[0].ID)
}
