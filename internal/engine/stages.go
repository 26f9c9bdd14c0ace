package engine

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/raulshma/etlez-sub001/internal/connectors"
	"github.com/raulshma/etlez-sub001/internal/mapper"
	"github.com/raulshma/etlez-sub001/internal/models"
	"github.com/raulshma/etlez-sub001/internal/rules"
)

// ExtractStage drains a source connector into the context variables under
// its output key.
type ExtractStage struct {
	source    connectors.Source
	outputKey string
	logger    *zap.Logger
}

// NewExtractStage creates an extract executor. An empty outputKey defaults
// to the shared records variable.
func NewExtractStage(source connectors.Source, outputKey string, logger *zap.Logger) *ExtractStage {
	if outputKey == "" {
		outputKey = models.VarRecords
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtractStage{source: source, outputKey: outputKey, logger: logger}
}

func (s *ExtractStage) Execute(ctx context.Context, pctx *models.PipelineContext) (*models.StageResult, error) {
	result := models.NewStageResult("extract")

	if err := s.source.Open(ctx); err != nil {
		return result, err
	}
	defer func() {
		if err := s.source.Close(ctx); err != nil {
			s.logger.Warn("failed to close source", zap.Error(err))
		}
	}()

	var extracted []*models.DataRecord
	records, errs := s.source.Records(ctx)
	for record := range records {
		extracted = append(extracted, record)
	}
	if err := <-errs; err != nil {
		result.RecordsProcessed = int64(len(extracted))
		return result, err
	}

	pctx.Variables.SetRecords(s.outputKey, extracted)
	result.RecordsProcessed = int64(len(extracted))
	result.RecordsSuccessful = int64(len(extracted))
	return result.Complete(models.StageStatusCompleted), nil
}

// TransformStage routes records through the rule engine and/or data mapper.
// Either may be nil; rules run first, then mapping, matching the
// read-after-write ordering the mapper guarantees internally.
type TransformStage struct {
	rules     *rules.Engine
	mapper    *mapper.Mapper
	inputKey  string
	outputKey string
}

// NewTransformStage creates a transform executor. Empty keys default to
// the shared records variable.
func NewTransformStage(ruleEngine *rules.Engine, fieldMapper *mapper.Mapper, inputKey, outputKey string) *TransformStage {
	if inputKey == "" {
		inputKey = models.VarRecords
	}
	if outputKey == "" {
		outputKey = models.VarRecords
	}
	return &TransformStage{
		rules:     ruleEngine,
		mapper:    fieldMapper,
		inputKey:  inputKey,
		outputKey: outputKey,
	}
}

func (s *TransformStage) Execute(ctx context.Context, pctx *models.PipelineContext) (*models.StageResult, error) {
	result := models.NewStageResult("transform")
	records := pctx.Variables.GetRecords(s.inputKey)
	result.RecordsProcessed = int64(len(records))

	var err error
	if s.rules != nil {
		records, err = s.rules.Process(ctx, records)
		if err != nil {
			return result, err
		}
	}
	if s.mapper != nil {
		records, err = s.mapper.Map(ctx, records)
		if err != nil {
			return result, err
		}
	}

	var failed int64
	for _, record := range records {
		if record.HasErrors() {
			failed++
			for _, re := range record.Errors {
				pctx.AddError(models.ExecutionError{
					Source:    re.Source,
					Message:   re.Message,
					Timestamp: re.Timestamp,
					Severity:  models.SeverityWarning,
				})
			}
		}
	}
	result.RecordsFailed = failed
	result.RecordsSuccessful = result.RecordsProcessed - failed

	pctx.Variables.SetRecords(s.outputKey, records)
	return result.Complete(models.StageStatusCompleted), nil
}

// RecordValidator checks one record, returning a non-nil error on violation.
type RecordValidator func(record *models.DataRecord) error

// RequiredFields returns a validator that rejects records missing any of
// the named fields.
func RequiredFields(fields ...string) RecordValidator {
	return func(record *models.DataRecord) error {
		for _, field := range fields {
			if !record.Has(field) {
				return fmt.Errorf("missing required field %q", field)
			}
		}
		return nil
	}
}

// ValidateStage applies record validators. Violations are per-record and
// non-fatal by default: offending records are flagged and counted, and the
// stage completes unless FailOnViolation is set.
type ValidateStage struct {
	validators      []RecordValidator
	inputKey        string
	FailOnViolation bool
}

// NewValidateStage creates a validate executor over the shared records
// variable unless inputKey overrides it.
func NewValidateStage(inputKey string, validators ...RecordValidator) *ValidateStage {
	if inputKey == "" {
		inputKey = models.VarRecords
	}
	return &ValidateStage{validators: validators, inputKey: inputKey}
}

func (s *ValidateStage) Execute(ctx context.Context, pctx *models.PipelineContext) (*models.StageResult, error) {
	result := models.NewStageResult("validate")
	records := pctx.Variables.GetRecords(s.inputKey)
	result.RecordsProcessed = int64(len(records))

	var failed int64
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		for _, validate := range s.validators {
			if err := validate(record); err != nil {
				failed++
				record.AddError("validate", err.Error())
				pctx.AddError(models.NewExecutionError(
					fmt.Sprintf("record:%s", record.ID), err.Error(), models.SeverityWarning))
				break
			}
		}
	}
	result.RecordsFailed = failed
	result.RecordsSuccessful = result.RecordsProcessed - failed

	if s.FailOnViolation && failed > 0 {
		result.AddError(models.NewExecutionError("validate",
			fmt.Sprintf("%d of %d records failed validation", failed, result.RecordsProcessed),
			models.SeverityError))
		return result.Complete(models.StageStatusFailed), nil
	}
	return result.Complete(models.StageStatusCompleted), nil
}

// LoadStage writes records to a destination connector in batches, guarded
// by a circuit breaker and an optional record-rate limiter. Breaker-open
// and rate failures surface as transient adapter errors so the retry
// policy can take over.
type LoadStage struct {
	dest      connectors.Destination
	inputKey  string
	batchSize int
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewLoadStage creates a load executor. A nil limiter disables rate
// limiting; batchSize below one uses the connector default.
func NewLoadStage(dest connectors.Destination, inputKey string, batchSize int, limiter *rate.Limiter, logger *zap.Logger) *LoadStage {
	if inputKey == "" {
		inputKey = models.VarRecords
	}
	if batchSize <= 0 {
		batchSize = connectors.DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name: "load-stage",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &LoadStage{
		dest:      dest,
		inputKey:  inputKey,
		batchSize: batchSize,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		limiter:   limiter,
		logger:    logger,
	}
}

func (s *LoadStage) Execute(ctx context.Context, pctx *models.PipelineContext) (*models.StageResult, error) {
	result := models.NewStageResult("load")
	records := pctx.Variables.GetRecords(s.inputKey)

	if err := s.dest.Open(ctx); err != nil {
		return result, err
	}
	defer func() {
		if err := s.dest.Close(ctx); err != nil {
			s.logger.Warn("failed to close destination", zap.Error(err))
		}
	}()

	for start := 0; start < len(records); start += s.batchSize {
		end := start + s.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		if s.limiter != nil {
			if err := s.limiter.WaitN(ctx, len(batch)); err != nil {
				return result, err
			}
		}

		written, err := s.breaker.Execute(func() (interface{}, error) {
			n, err := s.dest.Write(ctx, batch)
			return n, err
		})
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				err = models.NewTransientError(fmt.Errorf("destination unavailable: %w", err))
			}
			result.RecordsFailed += int64(len(batch))
			return result, err
		}
		n, _ := written.(int)
		result.RecordsProcessed += int64(n)
		result.RecordsSuccessful += int64(n)
	}

	return result.Complete(models.StageStatusCompleted), nil
}

// CustomStage wraps an arbitrary executor function with a name, for work
// that does not fit the built-in stage shapes.
type CustomStage struct {
	name string
	fn   models.StageExecutorFunc
}

// NewCustomStage creates a named custom executor.
func NewCustomStage(name string, fn models.StageExecutorFunc) *CustomStage {
	return &CustomStage{name: name, fn: fn}
}

func (s *CustomStage) Execute(ctx context.Context, pctx *models.PipelineContext) (*models.StageResult, error) {
	result, err := s.fn(ctx, pctx)
	if result == nil {
		result = models.NewStageResult(s.name)
	}
	return result, err
}
