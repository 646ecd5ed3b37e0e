package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamilpajak/opsdiag/pkg/models"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, store.Save(ctx, &models.Page{
		Items: []models.DiagnosisRecord{{ID: 1, Status: models.StatusRunning}},
		Total: 1,
	}))

	page, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, models.StatusRunning, page.Items[0].Status)
	assert.Equal(t, 1, page.Total)
}
