package memory

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/interfaces"
	"github.com/inferloop/mwem/pkg/models"
)

func TestMemoryStorageLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(nil)

	assert.Error(t, store.Ping(ctx))
	require.NoError(t, store.Connect(ctx))
	require.NoError(t, store.Ping(ctx))

	release := &models.Release{
		ID:         "r1",
		CreatedAt:  time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		DomainSize: 3,
		Weights:    []float64{1, 2, 3},
	}
	require.NoError(t, store.Save(ctx, release))

	release.Weights[0] = 99
	loaded, err := store.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, loaded.Weights)

	require.NoError(t, store.Delete(ctx, "r1"))
	_, err = store.Load(ctx, "r1")
	assert.True(t, stderrors.Is(err, errors.ErrReleaseNotFound))
	assert.True(t, stderrors.Is(store.Delete(ctx, "r1"), errors.ErrReleaseNotFound))

	require.NoError(t, store.Close())
	assert.Equal(t, errors.CodeNotConnected, errors.Code(store.Save(ctx, release)))
}

func TestMemoryStorageConcurrentSaveAndList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(nil)
	require.NoError(t, store.Connect(ctx))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Save(ctx, &models.Release{
				ID:        fmt.Sprintf("r%02d", i),
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}(i)
	}
	wg.Wait()

	summaries, err := store.List(ctx, &interfaces.ReleaseFilter{Limit: 5})
	require.NoError(t, err)
	require.Len(t, summaries, 5)
	assert.Equal(t, "r19", summaries[0].ID)
	assert.Equal(t, "r15", summaries[4].ID)

	health, err := store.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, health.Metadata["releases"])
}
