package loader

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raulshma/etlez-sub001/internal/connectors"
	"github.com/raulshma/etlez-sub001/internal/models"
)

// Duration decodes Go duration strings ("500ms", "2m") from YAML and JSON.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) >= 2 && raw[0] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// PipelineDefinition is the on-disk shape of a pipeline. Definitions are
// schema-validated before they are compiled into engine pipelines.
type PipelineDefinition struct {
	ID          string            `yaml:"id" json:"id" validate:"required"`
	Name        string            `yaml:"name" json:"name" validate:"required"`
	Description string            `yaml:"description" json:"description"`
	Schedule    string            `yaml:"schedule" json:"schedule"`
	Policy      *PolicyDefinition `yaml:"policy" json:"policy"`
	Stages      []StageDefinition `yaml:"stages" json:"stages" validate:"required,min=1,dive"`
}

// PolicyDefinition carries the per-pipeline execution policy overrides.
type PolicyDefinition struct {
	ErrorHandling *ErrorHandlingDefinition `yaml:"error_handling" json:"error_handling"`
	Retry         *RetryDefinition         `yaml:"retry" json:"retry"`
	StageTimeout  Duration                 `yaml:"stage_timeout" json:"stage_timeout"`
	MaxParallel   int                      `yaml:"max_parallelism" json:"max_parallelism"`
}

// ErrorHandlingDefinition mirrors models.ErrorHandlingConfig in YAML form.
type ErrorHandlingDefinition struct {
	StopOnError            bool    `yaml:"stop_on_error" json:"stop_on_error"`
	MaxErrors              int     `yaml:"max_errors" json:"max_errors"`
	ErrorThreshold         float64 `yaml:"error_threshold" json:"error_threshold"`
	ContinueOnStageFailure bool    `yaml:"continue_on_stage_failure" json:"continue_on_stage_failure"`
}

// RetryDefinition mirrors models.RetryConfig in YAML form.
type RetryDefinition struct {
	MaxAttempts     int      `yaml:"max_attempts" json:"max_attempts" validate:"min=0"`
	InitialDelay    Duration `yaml:"initial_delay" json:"initial_delay"`
	Multiplier      float64  `yaml:"multiplier" json:"multiplier"`
	MaxDelay        Duration `yaml:"max_delay" json:"max_delay"`
	Jitter          bool     `yaml:"jitter" json:"jitter"`
	RetryableErrors []string `yaml:"retryable_errors" json:"retryable_errors"`
}

// StageDefinition is one stage of a pipeline definition.
type StageDefinition struct {
	Name    string           `yaml:"name" json:"name" validate:"required"`
	Type    models.StageType `yaml:"type" json:"type" validate:"required,oneof=extract transform load validate custom"`
	Order   int              `yaml:"order" json:"order" validate:"required"`
	Enabled *bool            `yaml:"enabled" json:"enabled"`
	Group   string           `yaml:"group" json:"group"`

	// Condition gates the stage on a context variable.
	Condition *ConditionDefinition `yaml:"condition" json:"condition"`

	// Input/Output name the context variables the stage reads and writes;
	// both default to the shared records variable.
	Input  string `yaml:"input" json:"input"`
	Output string `yaml:"output" json:"output"`

	// Extract stages read from Source; load stages write to Destination.
	Source      *connectors.Config `yaml:"source" json:"source"`
	Destination *connectors.Config `yaml:"destination" json:"destination"`

	// Transform stages interpret Rules and Mappings.
	Rules    []RuleDefinition    `yaml:"rules" json:"rules" validate:"dive"`
	Mappings []MappingDefinition `yaml:"mappings" json:"mappings" validate:"dive"`

	// Validate stages check required fields.
	Required        []string `yaml:"required" json:"required"`
	FailOnViolation bool     `yaml:"fail_on_violation" json:"fail_on_violation"`

	// Load stages may throttle records per second. Zero disables.
	RateLimitRPS int `yaml:"rate_limit_rps" json:"rate_limit_rps"`
}

// IsEnabled applies the default: stages are enabled unless switched off.
func (s StageDefinition) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ConditionDefinition is a predicate value object interpreted at runtime,
// so pipelines can be built purely from configuration.
type ConditionDefinition struct {
	Field    string      `yaml:"field" json:"field" validate:"required"`
	Operator string      `yaml:"operator" json:"operator" validate:"required,oneof=eq ne gt gte lt lte contains exists not_exists"`
	Value    interface{} `yaml:"value" json:"value"`
}

// RuleDefinition is one business rule in configuration form.
type RuleDefinition struct {
	Name     string              `yaml:"name" json:"name" validate:"required"`
	Priority int                 `yaml:"priority" json:"priority"`
	When     ConditionDefinition `yaml:"when" json:"when" validate:"required"`
	Then     []ActionDefinition  `yaml:"then" json:"then" validate:"required,min=1,dive"`
}

// ActionDefinition is one rule action: set a literal, copy a field, or
// delete a field. Exactly one of Set/Copy/Delete applies.
type ActionDefinition struct {
	Set    string      `yaml:"set" json:"set"`
	Value  interface{} `yaml:"value" json:"value"`
	Copy   string      `yaml:"copy" json:"copy"`
	From   string      `yaml:"from" json:"from"`
	Delete string      `yaml:"delete" json:"delete"`
}

// MappingDefinition is one field mapping: direct (source -> dest with an
// optional named transform), constant, or conditional.
type MappingDefinition struct {
	Source    string      `yaml:"source" json:"source"`
	Dest      string      `yaml:"dest" json:"dest" validate:"required"`
	Transform string      `yaml:"transform" json:"transform"`
	Constant  interface{} `yaml:"constant" json:"constant"`

	// Conditional computes the destination from the record: Then when the
	// condition holds, Else otherwise.
	Conditional *ConditionalMappingDefinition `yaml:"conditional" json:"conditional"`
}

// ConditionalMappingDefinition picks a value per record.
type ConditionalMappingDefinition struct {
	When ConditionDefinition `yaml:"when" json:"when" validate:"required"`
	Then interface{}         `yaml:"then" json:"then"`
	Else interface{}         `yaml:"else" json:"else"`
}
