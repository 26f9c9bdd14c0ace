package rules

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/raulshma/etlez-sub001/internal/models"
)

// Predicate decides whether a rule applies to a record.
type Predicate func(record *models.DataRecord) bool

// Action mutates a matched record in place.
type Action func(record *models.DataRecord) error

// Rule is a named, prioritized (predicate, action) pair. Rules are immutable
// once registered.
type Rule struct {
	Name      string
	Priority  int
	Predicate Predicate
	Action    Action
}

// Engine applies an ordered set of business rules to record collections.
// Evaluation is a cascading chain in ascending priority: every rule whose
// predicate matches has its action invoked, so multiple rules may apply
// cumulatively to one record.
type Engine struct {
	rules  []*Rule
	logger *zap.Logger
}

// NewEngine creates an empty rule engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// AddRule inserts a rule keeping the set sorted by ascending priority.
// Among equal priorities, insertion order is preserved. Duplicate names are
// permitted.
func (e *Engine) AddRule(rule *Rule) error {
	if rule == nil {
		return fmt.Errorf("rule is nil")
	}
	if rule.Predicate == nil || rule.Action == nil {
		return fmt.Errorf("rule %q needs both a predicate and an action", rule.Name)
	}
	idx := len(e.rules)
	for i, existing := range e.rules {
		if existing.Priority > rule.Priority {
			idx = i
			break
		}
	}
	e.rules = append(e.rules, nil)
	copy(e.rules[idx+1:], e.rules[idx:])
	e.rules[idx] = rule
	return nil
}

// Rules returns the registered rules in evaluation order.
func (e *Engine) Rules() []*Rule {
	return append([]*Rule(nil), e.rules...)
}

// Process evaluates every rule against every record in priority order.
// An action that fails or panics is recorded against that specific record;
// processing of other rules and records continues. The input slice is
// returned with records mutated in place.
func (e *Engine) Process(ctx context.Context, records []*models.DataRecord) ([]*models.DataRecord, error) {
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		e.processRecord(ctx, record)
	}
	return records, nil
}

func (e *Engine) processRecord(ctx context.Context, record *models.DataRecord) {
	// writtenBy tracks which rule last wrote each field so that a second
	// writer is surfaced as a last-write-wins warning.
	writtenBy := make(map[string]string)

	for _, rule := range e.rules {
		if ctx.Err() != nil {
			return
		}
		matched := e.evaluatePredicate(rule, record)
		if !matched {
			continue
		}

		before := snapshotFields(record)
		if err := e.applyAction(rule, record); err != nil {
			record.AddError(fmt.Sprintf("rule:%s", rule.Name), err.Error())
			e.logger.Warn("rule action failed",
				zap.String("rule", rule.Name),
				zap.String("record_id", record.ID),
				zap.Error(err))
			continue
		}

		for field, value := range record.Fields {
			prev, existed := before[field]
			if existed && reflect.DeepEqual(prev, value) {
				continue
			}
			if prior, clash := writtenBy[field]; clash && prior != rule.Name {
				e.logger.Warn("field written by multiple rules, last write wins",
					zap.String("field", field),
					zap.String("first_rule", prior),
					zap.String("second_rule", rule.Name),
					zap.String("record_id", record.ID))
			}
			writtenBy[field] = rule.Name
		}
	}
}

func (e *Engine) evaluatePredicate(rule *Rule, record *models.DataRecord) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			record.AddError(fmt.Sprintf("rule:%s", rule.Name), fmt.Sprintf("predicate panic: %v", r))
			matched = false
		}
	}()
	return rule.Predicate(record)
}

func (e *Engine) applyAction(rule *Rule, record *models.DataRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v", r)
		}
	}()
	return rule.Action(record)
}

func snapshotFields(record *models.DataRecord) map[string]interface{} {
	snap := make(map[string]interface{}, len(record.Fields))
	for k, v := range record.Fields {
		snap[k] = v
	}
	return snap
}
