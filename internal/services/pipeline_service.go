package services

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/raulshma/etlez-sub001/internal/engine"
	"github.com/raulshma/etlez-sub001/internal/events"
	"github.com/raulshma/etlez-sub001/internal/loader"
	"github.com/raulshma/etlez-sub001/internal/models"
	"github.com/raulshma/etlez-sub001/internal/repositories"
	"github.com/raulshma/etlez-sub001/pkg/metrics"
)

// ErrPipelineNotFound is returned when the requested pipeline is not
// registered.
var ErrPipelineNotFound = errors.New("pipeline not found")

// ErrTooManyExecutions is returned when the concurrent run cap is reached.
var ErrTooManyExecutions = errors.New("concurrent execution limit reached")

// PipelineService registers pipeline definitions and runs executions
// asynchronously, persisting their outcomes.
type PipelineService struct {
	repos         *repositories.Repositories
	loader        *loader.Loader
	defaultPolicy models.ExecutionPolicy
	publisher     events.Publisher
	metrics       *metrics.Manager
	logger        *zap.Logger
	maxConcurrent int

	mu     sync.RWMutex
	active map[string]*activeExecution

	wg sync.WaitGroup
}

type activeExecution struct {
	pipelineID string
	startedAt  time.Time
	cancel     context.CancelFunc
}

// NewPipelineService wires the service. A nil metrics manager disables
// instrumentation; a nil publisher disables lifecycle events.
func NewPipelineService(
	repos *repositories.Repositories,
	ldr *loader.Loader,
	defaultPolicy models.ExecutionPolicy,
	publisher events.Publisher,
	mgr *metrics.Manager,
	maxConcurrent int,
	logger *zap.Logger,
) *PipelineService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &PipelineService{
		repos:         repos,
		loader:        ldr,
		defaultPolicy: defaultPolicy,
		publisher:     publisher,
		metrics:       mgr,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		active:        make(map[string]*activeExecution),
	}
}

// Register parses, validates, and stores a pipeline definition. An existing
// definition with the same id is replaced.
func (s *PipelineService) Register(ctx context.Context, definition []byte) (*loader.PipelineDefinition, error) {
	def, err := s.loader.Parse(definition)
	if err != nil {
		return nil, err
	}
	// Compile once up front so broken definitions are rejected at
	// registration rather than first execution.
	if _, err := s.loader.BuildPipeline(def); err != nil {
		return nil, err
	}

	record := &repositories.PipelineRecord{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Definition:  string(definition),
		Schedule:    def.Schedule,
		IsEnabled:   true,
	}
	if err := s.repos.Pipelines.Save(ctx, record); err != nil {
		return nil, errors.Wrap(err, "save pipeline")
	}
	s.logger.Info("pipeline registered",
		zap.String("pipeline_id", def.ID),
		zap.Int("stages", len(def.Stages)))
	return def, nil
}

// Get returns the stored pipeline record, or ErrPipelineNotFound.
func (s *PipelineService) Get(ctx context.Context, id string) (*repositories.PipelineRecord, error) {
	record, err := s.repos.Pipelines.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrPipelineNotFound
	}
	return record, nil
}

// List returns stored pipelines, newest first.
func (s *PipelineService) List(ctx context.Context, limit, offset int) ([]*repositories.PipelineRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repos.Pipelines.List(ctx, limit, offset)
}

// Delete removes a stored pipeline.
func (s *PipelineService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.repos.Pipelines.Delete(ctx, id)
}

// Execute starts an asynchronous execution of the stored pipeline and
// returns its execution id. The run proceeds on a background context; Cancel
// aborts it.
func (s *PipelineService) Execute(ctx context.Context, pipelineID string) (string, error) {
	record, err := s.Get(ctx, pipelineID)
	if err != nil {
		return "", err
	}
	if !record.IsEnabled {
		return "", errors.Errorf("pipeline %s is disabled", pipelineID)
	}

	def, err := s.loader.Parse([]byte(record.Definition))
	if err != nil {
		return "", err
	}
	pipeline, err := s.loader.BuildPipeline(def)
	if err != nil {
		return "", err
	}

	policy := s.defaultPolicy
	if def.Policy != nil {
		policy = def.ExecutionPolicy()
	}

	orch := engine.NewOrchestrator(policy, s.publisher, s.logger)
	pctx := orch.CreateContext(pipeline)

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if len(s.active) >= s.maxConcurrent {
		s.mu.Unlock()
		cancel()
		return "", ErrTooManyExecutions
	}
	s.active[pctx.ExecutionID] = &activeExecution{
		pipelineID: pipelineID,
		startedAt:  pctx.StartTime,
		cancel:     cancel,
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ExecutionStarted()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.run(runCtx, orch, pipeline, pctx)
	}()

	return pctx.ExecutionID, nil
}

func (s *PipelineService) run(ctx context.Context, orch *engine.Orchestrator, pipeline *models.Pipeline, pctx *models.PipelineContext) {
	result := orch.ExecutePipeline(ctx, pipeline, pctx)

	s.mu.Lock()
	delete(s.active, pctx.ExecutionID)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ExecutionFinished(
			result.PipelineID,
			string(result.Status),
			result.Duration.Seconds(),
			result.RecordsProcessed)
		for _, sr := range result.StageResults {
			s.metrics.StageCompleted(result.PipelineID, sr.StageName, string(sr.Status), sr.Duration.Seconds())
		}
		for i := 0; i < result.Statistics.RetriesPerformed; i++ {
			s.metrics.RetryObserved()
		}
	}

	record := &repositories.ExecutionRecord{
		ExecutionID: result.ExecutionID,
		PipelineID:  result.PipelineID,
		Status:      string(result.Status),
		IsSuccess:   result.IsSuccess,
		Result:      repositories.ResultJSON(*result),
		StartedAt:   result.StartTime,
		CompletedAt: result.EndTime,
	}
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.repos.Executions.Save(persistCtx, record); err != nil {
		s.logger.Error("failed to persist execution result",
			zap.String("execution_id", result.ExecutionID),
			zap.Error(err))
	}
}

// ExecutionStatus reports one execution: a running snapshot while in flight,
// the persisted record afterwards, or nil when unknown.
func (s *PipelineService) ExecutionStatus(ctx context.Context, executionID string) (*repositories.ExecutionRecord, error) {
	s.mu.RLock()
	exec, running := s.active[executionID]
	s.mu.RUnlock()
	if running {
		return &repositories.ExecutionRecord{
			ExecutionID: executionID,
			PipelineID:  exec.pipelineID,
			Status:      string(models.ExecutionStatusRunning),
			StartedAt:   exec.startedAt,
		}, nil
	}
	return s.repos.Executions.GetByID(ctx, executionID)
}

// ListExecutions returns persisted executions of a pipeline, newest first.
func (s *PipelineService) ListExecutions(ctx context.Context, pipelineID string, limit, offset int) ([]*repositories.ExecutionRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repos.Executions.ListByPipeline(ctx, pipelineID, limit, offset)
}

// Cancel aborts an in-flight execution. It reports whether the execution was
// found running.
func (s *PipelineService) Cancel(executionID string) bool {
	s.mu.RLock()
	exec, ok := s.active[executionID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	s.logger.Info("cancelling execution", zap.String("execution_id", executionID))
	exec.cancel()
	return true
}

// ActiveCount reports the number of in-flight executions.
func (s *PipelineService) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Shutdown cancels all in-flight executions and waits for their goroutines
// to persist results, or until ctx expires.
func (s *PipelineService) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, exec := range s.active {
		exec.cancel()
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
