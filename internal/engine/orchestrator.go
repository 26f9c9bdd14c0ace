package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/raulshma/etlez-sub001/internal/events"
	"github.com/raulshma/etlez-sub001/internal/models"
)

// Orchestrator drives one pipeline's stages against one context under an
// error/retry policy, producing a PipelineExecutionResult.
type Orchestrator struct {
	policy    models.ExecutionPolicy
	publisher events.Publisher
	logger    *zap.Logger
}

// NewOrchestrator creates an orchestrator with the given execution policy.
// A nil publisher disables lifecycle notifications.
func NewOrchestrator(policy models.ExecutionPolicy, publisher events.Publisher, logger *zap.Logger) *Orchestrator {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		policy:    policy,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateContext allocates a fresh execution context for the pipeline: new
// ExecutionID, StartTime now, empty variables.
func (o *Orchestrator) CreateContext(pipeline *models.Pipeline) *models.PipelineContext {
	return models.NewPipelineContext(pipeline.ID)
}

// ExecutePipeline runs every enabled stage in ascending order and returns
// the aggregated result. Validation failures produce a fatal configuration
// result with no stage run. Cancellation propagates as an immediate abort;
// already-committed load-stage side effects are the adapter's concern.
func (o *Orchestrator) ExecutePipeline(ctx context.Context, pipeline *models.Pipeline, pctx *models.PipelineContext) *models.PipelineExecutionResult {
	result := models.NewPipelineExecutionResult(pctx)
	log := o.logger.With(
		zap.String("pipeline_id", pctx.PipelineID),
		zap.String("execution_id", pctx.ExecutionID))

	if err := pipeline.Validate(); err != nil {
		pctx.AddError(models.NewExecutionError("orchestrator", err.Error(), models.SeverityCritical))
		log.Error("pipeline validation failed", zap.Error(err))
		result.Finalize(models.ExecutionStatusFailed, pctx)
		o.publish(ctx, events.EventPipelineFailed, pctx, map[string]interface{}{"error": err.Error()})
		return result
	}

	log.Info("pipeline execution started", zap.Int("stages", len(pipeline.Stages)))
	o.publish(ctx, events.EventPipelineStarted, pctx, map[string]interface{}{
		"pipeline_name": pipeline.Name,
		"stage_count":   len(pipeline.Stages),
	})

	status := o.runStages(ctx, pipeline, pctx, result)

	result.Finalize(status, pctx)
	switch status {
	case models.ExecutionStatusCompleted:
		log.Info("pipeline execution completed",
			zap.Duration("duration", result.Duration),
			zap.Int64("records_processed", result.RecordsProcessed))
		o.publish(ctx, events.EventPipelineCompleted, pctx, map[string]interface{}{
			"duration_ms":       result.Duration.Milliseconds(),
			"records_processed": result.RecordsProcessed,
		})
	default:
		log.Warn("pipeline execution did not complete",
			zap.String("status", string(status)),
			zap.Int("errors", len(result.Errors)))
		o.publish(ctx, events.EventPipelineFailed, pctx, map[string]interface{}{
			"status": string(status),
			"errors": len(result.Errors),
		})
	}
	return result
}

// runStages walks the ordered stage list, dispatching declared-independent
// groups concurrently when parallelism is enabled, and applies the error
// handling policy to each outcome. It returns the terminal status.
func (o *Orchestrator) runStages(ctx context.Context, pipeline *models.Pipeline, pctx *models.PipelineContext, result *models.PipelineExecutionResult) models.ExecutionStatus {
	fatalFailure := false

	for i := 0; i < len(pipeline.Stages); {
		if ctx.Err() != nil {
			return models.ExecutionStatusCancelled
		}

		group := o.nextGroup(pipeline.Stages, i)
		var stageResults []*models.StageResult
		if len(group) > 1 {
			stageResults = o.runParallelGroup(ctx, group, pctx)
		} else {
			stageResults = []*models.StageResult{o.runStage(ctx, group[0], pctx)}
		}
		i += len(group)

		for _, sr := range stageResults {
			result.StageResults = append(result.StageResults, sr)
			pctx.Statistics.RecordStage(sr)
			o.publish(ctx, events.EventStageCompleted, pctx, map[string]interface{}{
				"stage":             sr.StageName,
				"status":            string(sr.Status),
				"records_processed": sr.RecordsProcessed,
			})

			switch sr.Status {
			case models.StageStatusCancelled:
				return models.ExecutionStatusCancelled
			case models.StageStatusFailed:
				for _, e := range sr.Errors {
					pctx.AddError(e)
				}
				if o.shouldAbort(pctx) {
					return models.ExecutionStatusFailed
				}
				if o.policy.ErrorHandling.ContinueOnStageFailure {
					// Demoted to a warning; the run can still succeed.
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("stage %q failed and was tolerated", sr.StageName))
				} else {
					fatalFailure = true
				}
			}
		}
	}

	if ctx.Err() != nil {
		return models.ExecutionStatusCancelled
	}
	if fatalFailure {
		return models.ExecutionStatusFailed
	}
	return models.ExecutionStatusCompleted
}

// nextGroup returns the run of stages starting at index i that may execute
// together: a single stage, or adjacent stages sharing a non-empty Group
// when parallel execution is enabled.
func (o *Orchestrator) nextGroup(stages []*models.Stage, i int) []*models.Stage {
	first := stages[i]
	if o.policy.MaxParallelism < 2 || first.Group == "" {
		return stages[i : i+1]
	}
	j := i + 1
	for j < len(stages) && stages[j].Group == first.Group {
		j++
	}
	return stages[i:j]
}

// runParallelGroup executes declared-independent stages concurrently,
// bounded by MaxParallelism. Results are returned in stage order so the
// error policy is applied deterministically.
func (o *Orchestrator) runParallelGroup(ctx context.Context, group []*models.Stage, pctx *models.PipelineContext) []*models.StageResult {
	sem := semaphore.NewWeighted(int64(o.policy.MaxParallelism))
	results := make([]*models.StageResult, len(group))
	done := make(chan int, len(group))

	for idx, stage := range group {
		idx, stage := idx, stage
		if err := sem.Acquire(ctx, 1); err != nil {
			results[idx] = models.NewStageResult(stage.Name).Complete(models.StageStatusCancelled)
			done <- idx
			continue
		}
		go func() {
			defer sem.Release(1)
			results[idx] = o.runStage(ctx, stage, pctx)
			done <- idx
		}()
	}
	for range group {
		<-done
	}
	return results
}

// runStage executes one stage under the retry policy, honoring the enable
// flag and execution condition.
func (o *Orchestrator) runStage(ctx context.Context, stage *models.Stage, pctx *models.PipelineContext) *models.StageResult {
	log := o.logger.With(
		zap.String("pipeline_id", pctx.PipelineID),
		zap.String("execution_id", pctx.ExecutionID),
		zap.String("stage", stage.Name))

	if !stage.IsEnabled {
		log.Debug("stage disabled, skipping")
		return models.SkippedStageResult(stage.Name, "stage is disabled")
	}
	if stage.Condition != nil && !stage.Condition(pctx) {
		log.Debug("stage condition false, skipping")
		return models.SkippedStageResult(stage.Name, "execution condition evaluated false")
	}

	retry := o.policy.Retry
	var lastResult *models.StageResult
	var lastErr error

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return models.NewStageResult(stage.Name).Complete(models.StageStatusCancelled)
		}

		log.Debug("stage attempt starting", zap.Int("attempt", attempt+1))
		lastResult, lastErr = o.executeAttempt(ctx, stage, pctx)
		lastResult.Attempts = attempt + 1

		if lastErr == nil && lastResult.Status != models.StageStatusFailed {
			log.Info("stage completed",
				zap.Duration("duration", lastResult.Duration),
				zap.Int64("records_processed", lastResult.RecordsProcessed))
			return lastResult
		}

		if ctx.Err() != nil {
			return lastResult.Complete(models.StageStatusCancelled)
		}

		if lastErr == nil || !isRetryable(retry, lastErr) || attempt >= retry.MaxAttempts {
			// Exhausted attempts convert a transient failure to fatal.
			if lastErr != nil {
				lastResult.AddError(models.NewExecutionError(
					fmt.Sprintf("stage:%s", stage.Name), lastErr.Error(), models.SeverityError))
			}
			log.Error("stage failed",
				zap.Int("attempts", attempt+1),
				zap.Error(lastErr))
			lastResult.Complete(models.StageStatusFailed)
			return lastResult
		}

		wait := retryWait(retry, attempt)
		pctx.Statistics.RecordRetry()
		log.Warn("stage failed with transient error, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", retry.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(lastErr))
		if err := sleepContext(ctx, wait); err != nil {
			return lastResult.Complete(models.StageStatusCancelled)
		}
	}
}

// executeAttempt invokes the stage executor once, applying the per-stage
// timeout and converting panics into errors.
func (o *Orchestrator) executeAttempt(ctx context.Context, stage *models.Stage, pctx *models.PipelineContext) (result *models.StageResult, err error) {
	attemptCtx := ctx
	if o.policy.StageTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, o.policy.StageTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			if result == nil {
				result = models.NewStageResult(stage.Name)
			}
			err = fmt.Errorf("stage panic: %v", r)
		}
	}()

	result, err = stage.Executor.Execute(attemptCtx, pctx)
	if result == nil {
		result = models.NewStageResult(stage.Name)
	}
	result.StageName = stage.Name
	if err == nil && result.Status == models.StageStatusRunning {
		result.Complete(models.StageStatusCompleted)
	}
	return result, err
}

// shouldAbort applies the MaxErrors / ErrorThreshold policy plus StopOnError.
func (o *Orchestrator) shouldAbort(pctx *models.PipelineContext) bool {
	eh := o.policy.ErrorHandling
	if eh.StopOnError {
		return true
	}
	errCount := pctx.ErrorCount()
	if eh.MaxErrors > 0 && errCount > eh.MaxErrors {
		return true
	}
	if eh.ErrorThreshold > 0 {
		stats := pctx.Statistics.Snapshot()
		if stats.RecordsProcessed > 0 &&
			float64(errCount)/float64(stats.RecordsProcessed) > eh.ErrorThreshold {
			return true
		}
	}
	return false
}

// publish sends a lifecycle event; failures are best-effort by contract.
func (o *Orchestrator) publish(ctx context.Context, eventType events.EventType, pctx *models.PipelineContext, payload map[string]interface{}) {
	event := events.NewEvent(eventType, pctx.PipelineID, pctx.ExecutionID, payload)
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Debug("event publish failed",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
