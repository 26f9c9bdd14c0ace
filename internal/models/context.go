package models

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Well-known variable keys. Stages hand records to each other through these
// rather than inventing ad hoc names, which keeps key collisions out of
// pipeline definitions.
const (
	// VarRecords holds the record batch currently flowing between stages.
	VarRecords = "records"
)

// Variables is the shared mutable state stages use to pass data along.
// Access is synchronized so that independent stages scheduled concurrently
// cannot corrupt the map, but overlapping key usage between concurrent
// stages remains the pipeline author's responsibility.
type Variables struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewVariables returns an empty variable set.
func NewVariables() *Variables {
	return &Variables{values: make(map[string]interface{})}
}

// Set stores a value under key.
func (v *Variables) Set(key string, value interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[key] = value
}

// Get returns the raw value under key and whether it is present.
func (v *Variables) Get(key string) (interface{}, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[key]
	return val, ok
}

// GetString returns the string under key, or "" when absent or mistyped.
func (v *Variables) GetString(key string) string {
	if val, ok := v.Get(key); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

// GetInt returns the int under key, or 0 when absent or mistyped.
func (v *Variables) GetInt(key string) int {
	if val, ok := v.Get(key); ok {
		if i, ok := val.(int); ok {
			return i
		}
	}
	return 0
}

// GetRecords returns the record slice under key, or nil when absent.
func (v *Variables) GetRecords(key string) []*DataRecord {
	if val, ok := v.Get(key); ok {
		if records, ok := val.([]*DataRecord); ok {
			return records
		}
	}
	return nil
}

// SetRecords stores a record slice under key.
func (v *Variables) SetRecords(key string, records []*DataRecord) {
	v.Set(key, records)
}

// Keys returns the current key set. Order is unspecified.
func (v *Variables) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	return keys
}

// ExecutionStatistics is a plain counter snapshot, safe to copy and
// serialize.
type ExecutionStatistics struct {
	StagesExecuted    int   `json:"stages_executed"`
	StagesSkipped     int   `json:"stages_skipped"`
	StagesFailed      int   `json:"stages_failed"`
	RecordsProcessed  int64 `json:"records_processed"`
	RecordsSuccessful int64 `json:"records_successful"`
	RecordsFailed     int64 `json:"records_failed"`
	RetriesPerformed  int   `json:"retries_performed"`
}

// StatisticsTracker guards the live counters while stages, possibly
// concurrent ones, fold their results in.
type StatisticsTracker struct {
	mu    sync.Mutex
	stats ExecutionStatistics
}

// RecordStage folds one stage result into the counters.
func (t *StatisticsTracker) RecordStage(result *StageResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch result.Status {
	case StageStatusSkipped:
		t.stats.StagesSkipped++
	case StageStatusFailed:
		t.stats.StagesFailed++
	default:
		t.stats.StagesExecuted++
	}
	t.stats.RecordsProcessed += result.RecordsProcessed
	t.stats.RecordsSuccessful += result.RecordsSuccessful
	t.stats.RecordsFailed += result.RecordsFailed
}

// RecordRetry counts one retry attempt.
func (t *StatisticsTracker) RecordRetry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.RetriesPerformed++
}

// Snapshot returns the current counter values.
func (t *StatisticsTracker) Snapshot() ExecutionStatistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// PipelineContext is the per-execution shared state passed to every stage.
// It lives for the duration of one execution and is not persisted by the
// engine itself.
type PipelineContext struct {
	ExecutionID string
	PipelineID  string
	StartTime   time.Time
	Variables   *Variables
	Statistics  *StatisticsTracker

	mu     sync.Mutex
	errors []ExecutionError
}

// NewPipelineContext allocates a fresh context for one execution of the
// given pipeline.
func NewPipelineContext(pipelineID string) *PipelineContext {
	return &PipelineContext{
		ExecutionID: uuid.New().String(),
		PipelineID:  pipelineID,
		StartTime:   time.Now(),
		Variables:   NewVariables(),
		Statistics:  &StatisticsTracker{},
	}
}

// AddError appends to the execution's error list. The list is append-only.
func (c *PipelineContext) AddError(err ExecutionError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

// Errors returns a copy of the accumulated error list.
func (c *PipelineContext) Errors() []ExecutionError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ExecutionError(nil), c.errors...)
}

// ErrorCount returns the number of accumulated errors.
func (c *PipelineContext) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errors)
}
