package models

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataRecordFieldAccess(t *testing.T) {
	record := NewDataRecordFromFields(map[string]interface{}{
		"name": "Ada",
		"age":  36,
	})

	v, ok := record.Get("name")
	require.True(t, ok)
	assert.Equal(t, "Ada", v)
	assert.Equal(t, "Ada", record.GetString("name"))
	assert.Equal(t, "", record.GetString("age"))

	record.Set("city", "London")
	assert.True(t, record.Has("city"))
	record.Delete("city")
	assert.False(t, record.Has("city"))

	assert.ElementsMatch(t, []string{"name", "age"}, record.FieldNames())
}

func TestDataRecordCloneIsolation(t *testing.T) {
	record := NewDataRecordFromFields(map[string]interface{}{"a": 1})
	record.AddError("rule:x", "boom")

	clone := record.Clone()
	clone.Set("a", 2)
	clone.AddError("rule:y", "again")

	v, _ := record.Get("a")
	assert.Equal(t, 1, v)
	assert.Len(t, record.Errors, 1)
	assert.Len(t, clone.Errors, 2)
}

func noopExecutor() StageExecutor {
	return StageExecutorFunc(func(ctx context.Context, pctx *PipelineContext) (*StageResult, error) {
		return NewStageResult("noop").Complete(StageStatusCompleted), nil
	})
}

func TestPipelineValidate(t *testing.T) {
	valid := &Pipeline{
		ID:   "p1",
		Name: "demo",
		Stages: []*Stage{
			{Name: "extract", Type: StageTypeExtract, Order: 1, IsEnabled: true, Executor: noopExecutor()},
			{Name: "load", Type: StageTypeLoad, Order: 2, IsEnabled: true, Executor: noopExecutor()},
		},
	}
	require.NoError(t, valid.Validate())

	noStages := &Pipeline{ID: "p2", Name: "empty"}
	assert.Error(t, noStages.Validate())

	duplicateOrder := &Pipeline{
		ID:   "p3",
		Name: "dup",
		Stages: []*Stage{
			{Name: "a", Type: StageTypeExtract, Order: 1, Executor: noopExecutor()},
			{Name: "b", Type: StageTypeLoad, Order: 1, Executor: noopExecutor()},
		},
	}
	err := duplicateOrder.Validate()
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))

	noExecutor := &Pipeline{
		ID:   "p4",
		Name: "missing",
		Stages: []*Stage{
			{Name: "a", Type: StageTypeExtract, Order: 1},
		},
	}
	assert.Error(t, noExecutor.Validate())
}

func TestTransientErrorClassification(t *testing.T) {
	base := errors.New("connection refused")
	transient := NewTransientError(base)

	assert.True(t, IsTransient(transient))
	assert.True(t, errors.Is(transient, base))
	assert.False(t, IsTransient(base))
	assert.Nil(t, NewTransientError(nil))

	cfgErr := NewConfigurationError("bad stage %q", "x")
	assert.True(t, IsConfiguration(cfgErr))
	assert.False(t, IsTransient(cfgErr))
	assert.Contains(t, cfgErr.Error(), `bad stage "x"`)
}

func TestStageResultCompletion(t *testing.T) {
	result := NewStageResult("extract")
	assert.Equal(t, StageStatusRunning, result.Status)

	result.Complete(StageStatusCompleted)
	assert.True(t, result.IsSuccess)
	assert.False(t, result.EndTime.IsZero())
	assert.GreaterOrEqual(t, result.Duration, time.Duration(0))

	failed := NewStageResult("load").Complete(StageStatusFailed)
	assert.False(t, failed.IsSuccess)

	skipped := SkippedStageResult("gate", "condition false")
	assert.Equal(t, StageStatusSkipped, skipped.Status)
	assert.True(t, skipped.IsSuccess)
	assert.Contains(t, skipped.Warnings, "condition false")
}

func TestVariablesConcurrentAccess(t *testing.T) {
	vars := NewVariables()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			vars.Set("counter", i)
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		vars.GetInt("counter")
	}
	<-done

	records := []*DataRecord{NewDataRecord()}
	vars.SetRecords(VarRecords, records)
	assert.Len(t, vars.GetRecords(VarRecords), 1)
	assert.Nil(t, vars.GetRecords("missing"))
}

func TestPipelineContextErrorsAppendOnly(t *testing.T) {
	pctx := NewPipelineContext("p1")
	require.NotEmpty(t, pctx.ExecutionID)

	pctx.AddError(NewExecutionError("stage:a", "failed", SeverityError))
	pctx.AddError(NewExecutionError("record:1", "bad value", SeverityWarning))

	errs := pctx.Errors()
	assert.Len(t, errs, 2)
	assert.Equal(t, 2, pctx.ErrorCount())

	// Mutating the returned copy must not affect the context.
	errs[0].Message = "tampered"
	assert.Equal(t, "failed", pctx.Errors()[0].Message)
}

func TestExecutionStatisticsFold(t *testing.T) {
	stats := &StatisticsTracker{}
	completed := NewStageResult("a")
	completed.RecordsProcessed = 10
	completed.RecordsSuccessful = 8
	completed.RecordsFailed = 2
	stats.RecordStage(completed.Complete(StageStatusCompleted))
	stats.RecordStage(NewStageResult("b").Complete(StageStatusSkipped))
	stats.RecordStage(NewStageResult("c").Complete(StageStatusFailed))
	stats.RecordRetry()

	snap := stats.Snapshot()
	assert.Equal(t, 1, snap.StagesExecuted)
	assert.Equal(t, 1, snap.StagesSkipped)
	assert.Equal(t, 1, snap.StagesFailed)
	assert.Equal(t, int64(10), snap.RecordsProcessed)
	assert.Equal(t, 1, snap.RetriesPerformed)
}

func TestFinalizeCopiesContextState(t *testing.T) {
	pctx := NewPipelineContext("p1")
	pctx.AddError(NewExecutionError("stage:x", "oops", SeverityError))
	sr := NewStageResult("x")
	sr.RecordsProcessed = 5
	sr.RecordsSuccessful = 5
	pctx.Statistics.RecordStage(sr.Complete(StageStatusCompleted))

	result := NewPipelineExecutionResult(pctx)
	result.Finalize(ExecutionStatusCompleted, pctx)

	assert.True(t, result.IsSuccess)
	assert.Equal(t, int64(5), result.RecordsProcessed)
	assert.Len(t, result.Errors, 1)

	failed := NewPipelineExecutionResult(pctx).Finalize(ExecutionStatusFailed, pctx)
	assert.False(t, failed.IsSuccess)
}
