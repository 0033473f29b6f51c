package postgres

import (
	"context"
	stderrors "errors"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/interfaces"
	"github.com/inferloop/mwem/pkg/models"
)

func TestNewPostgresStorage(t *testing.T) {
	storage, err := NewPostgresStorage(&PostgresConfig{Host: "localhost", Database: "mwem"}, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultPostgresTable, storage.config.Table)
	assert.Equal(t, constants.DefaultStorageTimeout, storage.config.QueryTimeout)

	_, err = NewPostgresStorage(nil, nil)
	assert.Error(t, err)

	_, err = NewPostgresStorage(&PostgresConfig{}, nil)
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	storage, err := NewPostgresStorage(&PostgresConfig{
		Host:     "db.internal",
		Database: "mwem",
		Username: "mwem",
		Password: "secret",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "host=db.internal port=5432 user=mwem password=secret dbname=mwem sslmode=disable", storage.dsn())

	explicit, err := NewPostgresStorage(&PostgresConfig{ConnectionString: "postgres://u@h/db"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://u@h/db", explicit.dsn())
}

func TestPostgresQuotesTableName(t *testing.T) {
	storage, err := NewPostgresStorage(&PostgresConfig{Host: "h", Table: `odd"name`}, nil)
	require.NoError(t, err)
	assert.Equal(t, `"odd""name"`, storage.table())
	assert.Contains(t, storage.schemaSQL(), `CREATE TABLE IF NOT EXISTS "odd""name"`)
	assert.Contains(t, storage.upsertSQL(), "ON CONFLICT (id) DO UPDATE")
}

func TestPostgresListSQL(t *testing.T) {
	storage, err := NewPostgresStorage(&PostgresConfig{Host: "h"}, nil)
	require.NoError(t, err)

	query, args, err := storage.listSQL(nil)
	require.NoError(t, err)
	assert.Empty(t, args)
	assert.Contains(t, query, "ORDER BY created_at DESC, id ASC")
	assert.NotContains(t, query, "WHERE")

	query, args, err = storage.listSQL(&interfaces.ReleaseFilter{
		Limit:  10,
		Offset: 20,
		Labels: map[string]string{"team": "census"},
	})
	require.NoError(t, err)
	assert.Contains(t, query, "WHERE labels @> $1")
	assert.Contains(t, query, "LIMIT $2")
	assert.Contains(t, query, "OFFSET $3")
	require.Len(t, args, 3)
	assert.JSONEq(t, `{"team":"census"}`, string(args[0].([]byte)))
	assert.Equal(t, 10, args[1])
	assert.Equal(t, 20, args[2])

	_, args, err = storage.listSQL(&interfaces.ReleaseFilter{Offset: 5})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{5}, args)
}

func TestPostgresDisconnectedOperations(t *testing.T) {
	storage, err := NewPostgresStorage(&PostgresConfig{Host: "h"}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, errors.CodeNotConnected, errors.Code(storage.Ping(ctx)))
	_, err = storage.Load(ctx, "x")
	assert.Equal(t, errors.CodeNotConnected, errors.Code(err))
	assert.Equal(t, errors.CodeMissingField, errors.Code(storage.Save(ctx, &models.Release{})))
	assert.NoError(t, storage.Close())

	health, err := storage.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "unhealthy", health.Status)
}

func TestPostgresIntegration(t *testing.T) {
	dsn := os.Getenv("MWEM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Integration test - set MWEM_TEST_POSTGRES_DSN to run")
	}

	storage, err := NewPostgresStorage(&PostgresConfig{ConnectionString: dsn, Table: "mwem_releases_test"}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, storage.Connect(ctx))
	defer storage.Close()

	release := &models.Release{
		ID:         "pg-1",
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
		DomainSize: 2,
		Weights:    []float64{1, 3},
		Labels:     map[string]string{"env": "test"},
	}
	require.NoError(t, storage.Save(ctx, release))

	loaded, err := storage.Load(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, release.Weights, loaded.Weights)

	summaries, err := storage.List(ctx, &interfaces.ReleaseFilter{Labels: map[string]string{"env": "test"}})
	require.NoError(t, err)
	assert.NotEmpty(t, summaries)

	require.NoError(t, storage.Delete(ctx, release.ID))
	assert.True(t, stderrors.Is(storage.Delete(ctx, release.ID), errors.ErrReleaseNotFound))
}
