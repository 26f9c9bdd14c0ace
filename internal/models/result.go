package models

import (
	"time"
)

// ExecutionStatus is the terminal state of a pipeline execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// StageResult reports the outcome of one stage run.
type StageResult struct {
	StageName         string           `json:"stage_name"`
	Status            StageStatus      `json:"status"`
	IsSuccess         bool             `json:"is_success"`
	StartTime         time.Time        `json:"start_time"`
	EndTime           time.Time        `json:"end_time"`
	Duration          time.Duration    `json:"duration"`
	RecordsProcessed  int64            `json:"records_processed"`
	RecordsSuccessful int64            `json:"records_successful"`
	RecordsFailed     int64            `json:"records_failed"`
	Attempts          int              `json:"attempts"`
	Errors            []ExecutionError `json:"errors,omitempty"`
	Warnings          []string         `json:"warnings,omitempty"`
}

// NewStageResult starts a result for the named stage with the clock running.
func NewStageResult(stageName string) *StageResult {
	return &StageResult{
		StageName: stageName,
		Status:    StageStatusRunning,
		StartTime: time.Now(),
	}
}

// Complete marks the result finished with the given status and stamps timing.
func (r *StageResult) Complete(status StageStatus) *StageResult {
	r.Status = status
	r.IsSuccess = status == StageStatusCompleted || status == StageStatusSkipped
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
	return r
}

// AddError appends an error to the stage result.
func (r *StageResult) AddError(err ExecutionError) {
	r.Errors = append(r.Errors, err)
}

// SkippedStageResult builds a result for a stage that never ran.
func SkippedStageResult(stageName, reason string) *StageResult {
	result := NewStageResult(stageName)
	result.Warnings = append(result.Warnings, reason)
	return result.Complete(StageStatusSkipped)
}

// PipelineExecutionResult is the aggregate outcome of one pipeline run.
// IsSuccess together with the error and warning lists lets a caller
// distinguish "succeeded with warnings" from "aborted" from "completed with
// tolerated per-record failures".
type PipelineExecutionResult struct {
	ExecutionID       string              `json:"execution_id"`
	PipelineID        string              `json:"pipeline_id"`
	Status            ExecutionStatus     `json:"status"`
	IsSuccess         bool                `json:"is_success"`
	StartTime         time.Time           `json:"start_time"`
	EndTime           time.Time           `json:"end_time"`
	Duration          time.Duration       `json:"duration"`
	RecordsProcessed  int64               `json:"records_processed"`
	RecordsSuccessful int64               `json:"records_successful"`
	RecordsFailed     int64               `json:"records_failed"`
	StageResults      []*StageResult      `json:"stage_results"`
	Errors            []ExecutionError    `json:"errors,omitempty"`
	Warnings          []string            `json:"warnings,omitempty"`
	Statistics        ExecutionStatistics `json:"statistics"`
}

// NewPipelineExecutionResult starts a running result bound to the context.
func NewPipelineExecutionResult(pctx *PipelineContext) *PipelineExecutionResult {
	return &PipelineExecutionResult{
		ExecutionID: pctx.ExecutionID,
		PipelineID:  pctx.PipelineID,
		Status:      ExecutionStatusRunning,
		StartTime:   pctx.StartTime,
	}
}

// Finalize stamps timing, copies accumulated context errors and statistics,
// and sets IsSuccess from the terminal status.
func (r *PipelineExecutionResult) Finalize(status ExecutionStatus, pctx *PipelineContext) *PipelineExecutionResult {
	r.Status = status
	r.IsSuccess = status == ExecutionStatusCompleted
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
	r.Errors = pctx.Errors()
	r.Statistics = pctx.Statistics.Snapshot()
	r.RecordsProcessed = r.Statistics.RecordsProcessed
	r.RecordsSuccessful = r.Statistics.RecordsSuccessful
	r.RecordsFailed = r.Statistics.RecordsFailed
	return r
}
