package models

import (
	"context"
)

// StageType categorizes the work a stage performs.
type StageType string

const (
	StageTypeExtract   StageType = "extract"
	StageTypeTransform StageType = "transform"
	StageTypeLoad      StageType = "load"
	StageTypeValidate  StageType = "validate"
	StageTypeCustom    StageType = "custom"
)

// StageStatus is the per-execution state of a stage.
//
// Ready -> Running -> {Completed | Failed | Cancelled | Skipped}
type StageStatus string

const (
	StageStatusReady     StageStatus = "ready"
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusCancelled StageStatus = "cancelled"
	StageStatusSkipped   StageStatus = "skipped"
)

// StageExecutor is the unit of work bound to a stage. Implementations read
// their input from the shared context variables and write their output back,
// never referencing another stage directly.
type StageExecutor interface {
	Execute(ctx context.Context, pctx *PipelineContext) (*StageResult, error)
}

// StageExecutorFunc adapts a function to the StageExecutor interface.
type StageExecutorFunc func(ctx context.Context, pctx *PipelineContext) (*StageResult, error)

func (f StageExecutorFunc) Execute(ctx context.Context, pctx *PipelineContext) (*StageResult, error) {
	return f(ctx, pctx)
}

// StageCondition gates stage execution against the current context.
// A nil condition always passes.
type StageCondition func(pctx *PipelineContext) bool

// Stage is a named, ordered, typed unit of work within a pipeline.
type Stage struct {
	Name      string    `json:"name"`
	Type      StageType `json:"type"`
	Order     int       `json:"order"`
	IsEnabled bool      `json:"is_enabled"`

	// Condition, when set, is evaluated against the context before the
	// stage runs; a false result skips the stage.
	Condition StageCondition `json:"-"`

	// Group marks author-declared independence: adjacent enabled stages
	// sharing a non-empty group have no overlapping variable usage and may
	// run concurrently when parallel execution is enabled.
	Group string `json:"group,omitempty"`

	Executor StageExecutor `json:"-"`
}

// Pipeline is an ordered list of stages plus identity metadata. It is
// supplied fully formed by the definition loader; the engine only reads it.
type Pipeline struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Stages      []*Stage `json:"stages"`
}

// Validate checks the structural invariants the engine relies on: at least
// one stage, named stages with executors, and strictly increasing order.
func (p *Pipeline) Validate() error {
	if p.ID == "" {
		return NewConfigurationError("pipeline id is required")
	}
	if len(p.Stages) == 0 {
		return NewConfigurationError("pipeline %q has no stages", p.ID)
	}
	lastOrder := 0
	for i, stage := range p.Stages {
		if stage.Name == "" {
			return NewConfigurationError("pipeline %q: stage at index %d has no name", p.ID, i)
		}
		if stage.Executor == nil {
			return NewConfigurationError("pipeline %q: stage %q has no executor", p.ID, stage.Name)
		}
		if i > 0 && stage.Order <= lastOrder {
			return NewConfigurationError(
				"pipeline %q: stage %q order %d does not increase (previous %d)",
				p.ID, stage.Name, stage.Order, lastOrder)
		}
		lastOrder = stage.Order
	}
	return nil
}
