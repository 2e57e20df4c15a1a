package task

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, typ := range []string{"image", "video", "image"} {
		require.NoError(t, repo.Create(ctx, &Task{
			ID:        uuid.New(),
			Type:      typ,
			Status:    StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := repo.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt))

	image := "image"
	images, err := repo.List(ctx, &Filter{Type: &image, Limit: 1})
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, base.Add(2*time.Minute), images[0].CreatedAt)

	none, err := repo.List(ctx, &Filter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, none)

	got := all[0]
	got.Status = StatusRunning
	require.NoError(t, repo.Update(ctx, got))

	stored, err := repo.Get(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, stored.Status)

	// Returned tasks are copies.
	stored.Status = StatusFailed
	again, err := repo.Get(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, again.Status)

	require.NoError(t, repo.Delete(ctx, got.ID))
	_, err = repo.Get(ctx, got.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, repo.Update(ctx, got), ErrTaskNotFound)
}
