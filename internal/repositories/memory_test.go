package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPipelineRepositoryCRUD(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()

	record := &PipelineRecord{ID: "p1", Name: "one", Definition: "id: p1"}
	require.NoError(t, repos.Pipelines.Save(ctx, record))

	got, err := repos.Pipelines.GetByID(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "one", got.Name)

	missing, err := repos.Pipelines.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Save with the same id replaces.
	record2 := &PipelineRecord{ID: "p1", Name: "renamed", Definition: "id: p1"}
	require.NoError(t, repos.Pipelines.Save(ctx, record2))
	got, err = repos.Pipelines.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)

	require.NoError(t, repos.Pipelines.Delete(ctx, "p1"))
	got, err = repos.Pipelines.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryPipelineRepositoryPagination(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, repos.Pipelines.Save(ctx, &PipelineRecord{ID: id, Name: id}))
	}

	page, err := repos.Pipelines.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].ID)

	page, err = repos.Pipelines.List(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "d", page[0].ID)

	page, err = repos.Pipelines.List(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryExecutionRepositoryOrdering(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, repos.Executions.Save(ctx, &ExecutionRecord{
			ExecutionID: id,
			PipelineID:  "p1",
			Status:      "completed",
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repos.Executions.Save(ctx, &ExecutionRecord{
		ExecutionID: "other",
		PipelineID:  "p2",
		StartedAt:   base,
	}))

	list, err := repos.Executions.ListByPipeline(ctx, "p1", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	// Newest first.
	assert.Equal(t, "e3", list[0].ExecutionID)
	assert.Equal(t, "e1", list[2].ExecutionID)

	got, err := repos.Executions.GetByID(ctx, "e2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p1", got.PipelineID)
}
