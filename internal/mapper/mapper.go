package mapper

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/raulshma/etlez-sub001/internal/models"
)

// TransformFunc converts a source field value before it lands in the
// destination field.
type TransformFunc func(value interface{}) (interface{}, error)

// ConditionalFunc computes a destination value from the whole record. It
// runs after direct and constant mappings have been applied to that record,
// so it may read fields written earlier in the same pass.
type ConditionalFunc func(record *models.DataRecord) (interface{}, error)

// FieldMapping projects one source field onto a destination field,
// optionally transformed.
type FieldMapping struct {
	SourceField string
	DestField   string
	Transform   TransformFunc
}

// ConstantMapping injects a literal value into every output record.
type ConstantMapping struct {
	DestField string
	Value     interface{}
}

// ConditionalMapping injects a per-record computed value.
type ConditionalMapping struct {
	DestField string
	Fn        ConditionalFunc
}

// Mapper performs declarative field-level reshaping. Mapping is a
// projection: output records carry only mapped, constant, and conditional
// fields; unmapped source fields are dropped. Application order is direct
// mappings, then constants, then conditionals.
type Mapper struct {
	mappings     []FieldMapping
	constants    []ConstantMapping
	conditionals []ConditionalMapping
	sourceFields map[string]struct{}
	logger       *zap.Logger
}

// NewMapper creates an empty mapper.
func NewMapper(logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{
		sourceFields: make(map[string]struct{}),
		logger:       logger,
	}
}

// AddMapping maps sourceField to destField. When transform is nil the raw
// value is carried over; a missing source field yields a nil destination
// value. Source fields are unique per mapper instance.
func (m *Mapper) AddMapping(sourceField, destField string, transform TransformFunc) error {
	if sourceField == "" || destField == "" {
		return fmt.Errorf("mapping needs both source and destination fields")
	}
	if _, exists := m.sourceFields[sourceField]; exists {
		return fmt.Errorf("source field %q is already mapped", sourceField)
	}
	m.sourceFields[sourceField] = struct{}{}
	m.mappings = append(m.mappings, FieldMapping{
		SourceField: sourceField,
		DestField:   destField,
		Transform:   transform,
	})
	return nil
}

// AddConstantMapping injects value into destField of every output record.
func (m *Mapper) AddConstantMapping(destField string, value interface{}) error {
	if destField == "" {
		return fmt.Errorf("constant mapping needs a destination field")
	}
	m.constants = append(m.constants, ConstantMapping{DestField: destField, Value: value})
	return nil
}

// AddConditionalMapping computes destField per record via fn, evaluated
// after prior mappings have been applied to that record.
func (m *Mapper) AddConditionalMapping(destField string, fn ConditionalFunc) error {
	if destField == "" {
		return fmt.Errorf("conditional mapping needs a destination field")
	}
	if fn == nil {
		return fmt.Errorf("conditional mapping %q needs a function", destField)
	}
	m.conditionals = append(m.conditionals, ConditionalMapping{DestField: destField, Fn: fn})
	return nil
}

// Map projects each input record into a new output record. A transform or
// conditional function that fails is recorded against the offending record,
// which is retained with the error flagged; mapping continues for the
// remaining records and fields.
func (m *Mapper) Map(ctx context.Context, records []*models.DataRecord) ([]*models.DataRecord, error) {
	out := make([]*models.DataRecord, 0, len(records))
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out = append(out, m.mapRecord(record))
	}
	return out, nil
}

func (m *Mapper) mapRecord(source *models.DataRecord) *models.DataRecord {
	dest := models.NewDataRecord()
	dest.Source = source.Source
	dest.RowNumber = source.RowNumber

	for _, fm := range m.mappings {
		value, ok := source.Get(fm.SourceField)
		if !ok {
			dest.Set(fm.DestField, nil)
			continue
		}
		if fm.Transform == nil {
			dest.Set(fm.DestField, value)
			continue
		}
		transformed, err := m.applyTransform(fm.Transform, value)
		if err != nil {
			dest.AddError(fmt.Sprintf("mapping:%s", fm.DestField), err.Error())
			m.logger.Warn("field transform failed",
				zap.String("source_field", fm.SourceField),
				zap.String("dest_field", fm.DestField),
				zap.String("record_id", source.ID),
				zap.Error(err))
			dest.Set(fm.DestField, nil)
			continue
		}
		dest.Set(fm.DestField, transformed)
	}

	for _, cm := range m.constants {
		dest.Set(cm.DestField, cm.Value)
	}

	for _, cm := range m.conditionals {
		value, err := m.applyConditional(cm.Fn, dest)
		if err != nil {
			dest.AddError(fmt.Sprintf("mapping:%s", cm.DestField), err.Error())
			m.logger.Warn("conditional mapping failed",
				zap.String("dest_field", cm.DestField),
				zap.String("record_id", source.ID),
				zap.Error(err))
			continue
		}
		dest.Set(cm.DestField, value)
	}

	return dest
}

func (m *Mapper) applyTransform(fn TransformFunc, value interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panic: %v", r)
		}
	}()
	return fn(value)
}

func (m *Mapper) applyConditional(fn ConditionalFunc, record *models.DataRecord) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("conditional panic: %v", r)
		}
	}()
	return fn(record)
}
