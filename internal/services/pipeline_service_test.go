package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/raulshma/etlez-sub001/internal/connectors"
	"github.com/raulshma/etlez-sub001/internal/loader"
	"github.com/raulshma/etlez-sub001/internal/models"
	"github.com/raulshma/etlez-sub001/internal/repositories"
)

const validDefinition = `
id: demo
name: Demo pipeline
stages:
  - name: pull
    type: extract
    order: 1
    source:
      type: memory
  - name: push
    type: load
    order: 2
    destination:
      type: memory
`

func newTestService(t *testing.T) *PipelineService {
	logger := zaptest.NewLogger(t)
	ldr := loader.New(connectors.NewRegistry(), logger)
	policy := models.DefaultExecutionPolicy()
	policy.Retry.InitialDelay = time.Millisecond
	policy.Retry.Jitter = false
	return NewPipelineService(
		repositories.NewMemoryRepositories(), ldr, policy, nil, nil, 4, logger)
}

func waitForTerminal(t *testing.T, service *PipelineService, executionID string) *repositories.ExecutionRecord {
	t.Helper()
	var record *repositories.ExecutionRecord
	require.Eventually(t, func() bool {
		var err error
		record, err = service.ExecutionStatus(context.Background(), executionID)
		require.NoError(t, err)
		return record != nil && record.Status != string(models.ExecutionStatusRunning)
	}, 5*time.Second, 10*time.Millisecond)
	return record
}

func TestRegisterAndGet(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	def, err := service.Register(ctx, []byte(validDefinition))
	require.NoError(t, err)
	assert.Equal(t, "demo", def.ID)

	record, err := service.Get(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "Demo pipeline", record.Name)
	assert.True(t, record.IsEnabled)

	list, err := service.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = service.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrPipelineNotFound)
}

func TestRegisterRejectsBrokenDefinitions(t *testing.T) {
	service := newTestService(t)
	_, err := service.Register(context.Background(), []byte("id: broken\nname: broken\nstages: []\n"))
	require.Error(t, err)
	assert.True(t, models.IsConfiguration(err))
}

func TestExecuteRunsAndPersistsResult(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	_, err := service.Register(ctx, []byte(validDefinition))
	require.NoError(t, err)

	executionID, err := service.Execute(ctx, "demo")
	require.NoError(t, err)
	require.NotEmpty(t, executionID)

	record := waitForTerminal(t, service, executionID)
	assert.Equal(t, string(models.ExecutionStatusCompleted), record.Status)
	assert.True(t, record.IsSuccess)
	assert.Equal(t, "demo", record.PipelineID)
	assert.Equal(t, executionID, record.Result.ExecutionID)

	list, err := service.ListExecutions(ctx, "demo", 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestExecuteUnknownPipeline(t *testing.T) {
	service := newTestService(t)
	_, err := service.Execute(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrPipelineNotFound)
}

func TestCancelStopsInFlightExecution(t *testing.T) {
	logger := zaptest.NewLogger(t)
	registry := connectors.NewRegistry()

	started := make(chan struct{})
	registry.RegisterSource("stall", func(cfg connectors.Config) (connectors.Source, error) {
		return &stallingSource{started: started}, nil
	})

	ldr := loader.New(registry, logger)
	service := NewPipelineService(
		repositories.NewMemoryRepositories(), ldr, models.DefaultExecutionPolicy(), nil, nil, 4, logger)

	ctx := context.Background()
	_, err := service.Register(ctx, []byte(`
id: slow
name: slow
stages:
  - name: pull
    type: extract
    order: 1
    source:
      type: stall
`))
	require.NoError(t, err)

	executionID, err := service.Execute(ctx, "slow")
	require.NoError(t, err)
	<-started

	assert.Equal(t, 1, service.ActiveCount())
	require.True(t, service.Cancel(executionID))
	assert.False(t, service.Cancel("unknown"))

	record := waitForTerminal(t, service, executionID)
	assert.Equal(t, string(models.ExecutionStatusCancelled), record.Status)
	assert.False(t, record.IsSuccess)
	assert.Equal(t, 0, service.ActiveCount())
}

func TestConcurrencyCap(t *testing.T) {
	logger := zaptest.NewLogger(t)
	registry := connectors.NewRegistry()
	started := make(chan struct{}, 8)
	registry.RegisterSource("stall", func(cfg connectors.Config) (connectors.Source, error) {
		return &stallingSource{started: started}, nil
	})

	ldr := loader.New(registry, logger)
	service := NewPipelineService(
		repositories.NewMemoryRepositories(), ldr, models.DefaultExecutionPolicy(), nil, nil, 1, logger)

	ctx := context.Background()
	_, err := service.Register(ctx, []byte(`
id: slow
name: slow
stages:
  - name: pull
    type: extract
    order: 1
    source:
      type: stall
`))
	require.NoError(t, err)

	first, err := service.Execute(ctx, "slow")
	require.NoError(t, err)
	<-started

	_, err = service.Execute(ctx, "slow")
	assert.ErrorIs(t, err, ErrTooManyExecutions)

	service.Cancel(first)
	waitForTerminal(t, service, first)
}

func TestShutdownDrainsExecutions(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	_, err := service.Register(ctx, []byte(validDefinition))
	require.NoError(t, err)
	_, err = service.Execute(ctx, "demo")
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, service.Shutdown(shutdownCtx))
	assert.Equal(t, 0, service.ActiveCount())
}

// stallingSource blocks record delivery until its context is cancelled.
type stallingSource struct {
	started chan struct{}
}

func (s *stallingSource) Open(ctx context.Context) error { return nil }

func (s *stallingSource) Records(ctx context.Context) (<-chan *models.DataRecord, <-chan error) {
	out := make(chan *models.DataRecord)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		s.started <- struct{}{}
		<-ctx.Done()
		errs <- ctx.Err()
	}()
	return out, errs
}

func (s *stallingSource) Close(ctx context.Context) error { return nil }
