package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/spanner"
	"cloud.google.com/go/spanner/spannertest"
	"cloud.google.com/go/spanner/spansql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/go-imagepipeline/schema"
)

const testSpannerDatabase = "projects/test-project/instances/test-instance/databases/test-database"

func setupSpannerTestServer(t *testing.T) (*spanner.Client, func()) {
	server, err := spannertest.NewServer("localhost:0")
	require.NoError(t, err)

	ddl, err := spansql.ParseDDL("tracker.sql", fmt.Sprintf(SpannerSchema, DefaultTable))
	require.NoError(t, err)
	require.NoError(t, server.UpdateDDL(ddl))

	t.Setenv("SPANNER_EMULATOR_HOST", server.Addr)
	client, err := spanner.NewClient(context.Background(), testSpannerDatabase)
	require.NoError(t, err)

	return client, func() {
		client.Close()
		server.Close()
	}
}

func TestSpannerRepository_SaveAndFind(t *testing.T) {
	client, cleanup := setupSpannerTestServer(t)
	defer cleanup()

	repo := NewSpannerRepository(client, "")
	ctx := context.Background()
	t0 := time.Date(2024, 12, 25, 10, 30, 0, 0, time.UTC)

	tracker := schema.NewCreationTracker("p-1", "c-1", t0)
	_, err := repo.Save(ctx, tracker)
	assert.NoError(t, err)

	pending, err := tracker.WithStatus(schema.StatusImageUploadPending, t0.Add(time.Second))
	require.NoError(t, err)
	failed, err := pending.MarkFailed("bucket missing", t0.Add(2*time.Second))
	require.NoError(t, err)
	_, err = repo.Save(ctx, failed)
	assert.NoError(t, err)

	byProduct, err := repo.FindByProductID(ctx, "p-1")
	assert.NoError(t, err)
	assert.Equal(t, schema.StatusFailed, byProduct.Status)
	assert.Equal(t, "bucket missing", byProduct.FailureReason)
	assert.True(t, t0.Equal(byProduct.CreatedAt))

	byCorrelation, err := repo.FindByCorrelationID(ctx, "c-1")
	assert.NoError(t, err)
	assert.Equal(t, "p-1", byCorrelation.ProductID)
}

func TestSpannerRepository_NotFound(t *testing.T) {
	client, cleanup := setupSpannerTestServer(t)
	defer cleanup()

	repo := NewSpannerRepository(client, "")

	_, err := repo.FindByProductID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTrackerNotFound)
}
