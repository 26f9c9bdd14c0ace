package loader

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/raulshma/etlez-sub001/internal/connectors"
	"github.com/raulshma/etlez-sub001/internal/engine"
	"github.com/raulshma/etlez-sub001/internal/mapper"
	"github.com/raulshma/etlez-sub001/internal/models"
	"github.com/raulshma/etlez-sub001/internal/rules"
	"golang.org/x/time/rate"
)

// Loader parses YAML pipeline definitions and compiles them into runnable
// pipelines backed by the connector registry.
type Loader struct {
	registry *connectors.Registry
	validate *validator.Validate
	logger   *zap.Logger
}

// New creates a loader over the given connector registry.
func New(registry *connectors.Registry, logger *zap.Logger) *Loader {
	if registry == nil {
		registry = connectors.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		registry: registry,
		validate: validator.New(),
		logger:   logger,
	}
}

// Parse decodes a YAML definition, substituting ${ENV_VAR} references from
// the process environment before unmarshalling, and schema-validates it.
func (l *Loader) Parse(data []byte) (*PipelineDefinition, error) {
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	var def PipelineDefinition
	if err := yaml.Unmarshal([]byte(expanded), &def); err != nil {
		return nil, models.NewConfigurationError(errors.Wrap(err, "parse pipeline definition").Error())
	}
	if err := l.validate.Struct(&def); err != nil {
		return nil, models.NewConfigurationError(errors.Wrap(err, "invalid pipeline definition").Error())
	}
	for i := range def.Stages {
		if err := l.checkStage(&def.Stages[i]); err != nil {
			return nil, err
		}
	}
	return &def, nil
}

// ParseFile reads and parses a definition file.
func (l *Loader) ParseFile(path string) (*PipelineDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read pipeline definition %s", path)
	}
	return l.Parse(data)
}

// checkStage enforces the per-type requirements the struct tags cannot.
func (l *Loader) checkStage(stage *StageDefinition) error {
	switch stage.Type {
	case models.StageTypeExtract:
		if stage.Source == nil {
			return models.NewConfigurationError("extract stage %q needs a source", stage.Name)
		}
	case models.StageTypeLoad:
		if stage.Destination == nil {
			return models.NewConfigurationError("load stage %q needs a destination", stage.Name)
		}
	case models.StageTypeTransform:
		if len(stage.Rules) == 0 && len(stage.Mappings) == 0 {
			return models.NewConfigurationError("transform stage %q needs rules or mappings", stage.Name)
		}
	case models.StageTypeValidate:
		if len(stage.Required) == 0 {
			return models.NewConfigurationError("validate stage %q needs required fields", stage.Name)
		}
	case models.StageTypeCustom:
		return models.NewConfigurationError("custom stage %q cannot be built from a definition", stage.Name)
	}
	for i := range stage.Mappings {
		md := stage.Mappings[i]
		kinds := 0
		if md.Source != "" {
			kinds++
		}
		if md.Constant != nil {
			kinds++
		}
		if md.Conditional != nil {
			kinds++
		}
		if kinds != 1 {
			return models.NewConfigurationError("mapping for %q must be exactly one of direct, constant, conditional", md.Dest)
		}
		if md.Transform != "" {
			if _, err := LookupTransform(md.Transform); err != nil {
				return models.NewConfigurationError(err.Error())
			}
		}
	}
	return nil
}

// ExecutionPolicy converts the definition's policy section, falling back to
// defaults for absent sections.
func (d *PipelineDefinition) ExecutionPolicy() models.ExecutionPolicy {
	policy := models.DefaultExecutionPolicy()
	if d.Policy == nil {
		return policy
	}
	p := d.Policy
	if p.ErrorHandling != nil {
		policy.ErrorHandling = models.ErrorHandlingConfig{
			StopOnError:            p.ErrorHandling.StopOnError,
			MaxErrors:              p.ErrorHandling.MaxErrors,
			ErrorThreshold:         p.ErrorHandling.ErrorThreshold,
			ContinueOnStageFailure: p.ErrorHandling.ContinueOnStageFailure,
		}
	}
	if p.Retry != nil {
		retry := models.RetryConfig{
			MaxAttempts:     p.Retry.MaxAttempts,
			InitialDelay:    time.Duration(p.Retry.InitialDelay),
			Multiplier:      p.Retry.Multiplier,
			MaxDelay:        time.Duration(p.Retry.MaxDelay),
			Jitter:          p.Retry.Jitter,
			RetryableErrors: p.Retry.RetryableErrors,
		}
		defaults := models.DefaultRetryConfig()
		if retry.InitialDelay <= 0 {
			retry.InitialDelay = defaults.InitialDelay
		}
		if retry.Multiplier <= 0 {
			retry.Multiplier = defaults.Multiplier
		}
		if retry.MaxDelay <= 0 {
			retry.MaxDelay = defaults.MaxDelay
		}
		policy.Retry = retry
	}
	if p.StageTimeout > 0 {
		policy.StageTimeout = time.Duration(p.StageTimeout)
	}
	if p.MaxParallel > 0 {
		policy.MaxParallelism = p.MaxParallel
	}
	return policy
}

// BuildPipeline compiles a parsed definition into a runnable pipeline.
func (l *Loader) BuildPipeline(def *PipelineDefinition) (*models.Pipeline, error) {
	pipeline := &models.Pipeline{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
	}

	for i := range def.Stages {
		stage, err := l.buildStage(&def.Stages[i])
		if err != nil {
			return nil, errors.Wrapf(err, "build stage %s", def.Stages[i].Name)
		}
		pipeline.Stages = append(pipeline.Stages, stage)
	}

	if err := pipeline.Validate(); err != nil {
		return nil, err
	}
	return pipeline, nil
}

func (l *Loader) buildStage(def *StageDefinition) (*models.Stage, error) {
	stage := &models.Stage{
		Name:      def.Name,
		Type:      def.Type,
		Order:     def.Order,
		IsEnabled: def.IsEnabled(),
		Group:     def.Group,
	}
	if def.Condition != nil {
		cond := *def.Condition
		stage.Condition = func(pctx *models.PipelineContext) bool {
			value, ok := pctx.Variables.Get(cond.Field)
			probe := models.NewDataRecord()
			if ok {
				probe.Set(cond.Field, value)
			}
			return cond.Evaluate(probe)
		}
	}

	var err error
	switch def.Type {
	case models.StageTypeExtract:
		stage.Executor, err = l.buildExtract(def)
	case models.StageTypeTransform:
		stage.Executor, err = l.buildTransform(def)
	case models.StageTypeValidate:
		stage.Executor = l.buildValidate(def)
	case models.StageTypeLoad:
		stage.Executor, err = l.buildLoad(def)
	default:
		err = models.NewConfigurationError("unsupported stage type %q", def.Type)
	}
	if err != nil {
		return nil, err
	}
	return stage, nil
}

func (l *Loader) buildExtract(def *StageDefinition) (models.StageExecutor, error) {
	source, err := l.registry.NewSource(*def.Source)
	if err != nil {
		return nil, err
	}
	return engine.NewExtractStage(source, def.Output, l.logger), nil
}

func (l *Loader) buildTransform(def *StageDefinition) (models.StageExecutor, error) {
	var ruleEngine *rules.Engine
	if len(def.Rules) > 0 {
		ruleEngine = rules.NewEngine(l.logger)
		for _, rd := range def.Rules {
			rule, err := buildRule(rd)
			if err != nil {
				return nil, err
			}
			if err := ruleEngine.AddRule(rule); err != nil {
				return nil, err
			}
		}
	}

	var fieldMapper *mapper.Mapper
	if len(def.Mappings) > 0 {
		fieldMapper = mapper.NewMapper(l.logger)
		for _, md := range def.Mappings {
			if err := addMapping(fieldMapper, md); err != nil {
				return nil, err
			}
		}
	}

	return engine.NewTransformStage(ruleEngine, fieldMapper, def.Input, def.Output), nil
}

func buildRule(def RuleDefinition) (*rules.Rule, error) {
	actions := make([]func(record *models.DataRecord) error, 0, len(def.Then))
	for _, ad := range def.Then {
		action, err := buildAction(ad)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %s", def.Name)
		}
		actions = append(actions, action)
	}
	when := def.When
	return &rules.Rule{
		Name:     def.Name,
		Priority: def.Priority,
		Predicate: func(record *models.DataRecord) bool {
			return when.Evaluate(record)
		},
		Action: func(record *models.DataRecord) error {
			for _, action := range actions {
				if err := action(record); err != nil {
					return err
				}
			}
			return nil
		},
	}, nil
}

func addMapping(m *mapper.Mapper, def MappingDefinition) error {
	switch {
	case def.Source != "":
		var transform mapper.TransformFunc
		if def.Transform != "" {
			var err error
			transform, err = LookupTransform(def.Transform)
			if err != nil {
				return err
			}
		}
		return m.AddMapping(def.Source, def.Dest, transform)
	case def.Constant != nil:
		return m.AddConstantMapping(def.Dest, def.Constant)
	case def.Conditional != nil:
		cm := *def.Conditional
		return m.AddConditionalMapping(def.Dest, func(record *models.DataRecord) (interface{}, error) {
			if cm.When.Evaluate(record) {
				return cm.Then, nil
			}
			return cm.Else, nil
		})
	default:
		return models.NewConfigurationError("empty mapping for %q", def.Dest)
	}
}

func (l *Loader) buildValidate(def *StageDefinition) models.StageExecutor {
	stage := engine.NewValidateStage(def.Input, engine.RequiredFields(def.Required...))
	stage.FailOnViolation = def.FailOnViolation
	return stage
}

func (l *Loader) buildLoad(def *StageDefinition) (models.StageExecutor, error) {
	dest, err := l.registry.NewDestination(*def.Destination)
	if err != nil {
		return nil, err
	}
	var limiter *rate.Limiter
	if def.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(def.RateLimitRPS), def.RateLimitRPS)
	}
	return engine.NewLoadStage(dest, def.Input, def.Destination.EffectiveBatchSize(), limiter, l.logger), nil
}
