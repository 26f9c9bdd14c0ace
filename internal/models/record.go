package models

import (
	"time"

	"github.com/google/uuid"
)

// DataRecord represents a single row or event flowing through a pipeline.
// Fields are keyed by name; a record is owned by whichever stage currently
// holds it and is mutated in place by rules and mappings.
type DataRecord struct {
	ID        string                 `json:"id"`
	Fields    map[string]interface{} `json:"fields"`
	Source    string                 `json:"source,omitempty"`
	RowNumber int64                  `json:"row_number,omitempty"`
	Errors    []RecordError          `json:"errors,omitempty"`
}

// RecordError captures a per-record failure (rule action, mapping function,
// validation) without aborting processing of other records.
type RecordError struct {
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewDataRecord creates an empty record with a fresh identity.
func NewDataRecord() *DataRecord {
	return &DataRecord{
		ID:     uuid.New().String(),
		Fields: make(map[string]interface{}),
	}
}

// NewDataRecordFromFields creates a record seeded with the given fields.
// The map is copied so the caller keeps ownership of its input.
func NewDataRecordFromFields(fields map[string]interface{}) *DataRecord {
	r := NewDataRecord()
	for k, v := range fields {
		r.Fields[k] = v
	}
	return r
}

// Get returns the value of a field and whether it is present.
func (r *DataRecord) Get(field string) (interface{}, bool) {
	v, ok := r.Fields[field]
	return v, ok
}

// GetString returns a field coerced to string, or "" when absent or not a string.
func (r *DataRecord) GetString(field string) string {
	if v, ok := r.Fields[field]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Set writes a field value in place.
func (r *DataRecord) Set(field string, value interface{}) {
	if r.Fields == nil {
		r.Fields = make(map[string]interface{})
	}
	r.Fields[field] = value
}

// Delete removes a field. Removing an absent field is a no-op.
func (r *DataRecord) Delete(field string) {
	delete(r.Fields, field)
}

// Has reports whether the record carries the named field.
func (r *DataRecord) Has(field string) bool {
	_, ok := r.Fields[field]
	return ok
}

// FieldNames returns the current field-name set. Order is unspecified.
func (r *DataRecord) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	return names
}

// AddError records a per-record failure against this record.
func (r *DataRecord) AddError(source, message string) {
	r.Errors = append(r.Errors, RecordError{
		Source:    source,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// HasErrors reports whether any per-record failure was recorded.
func (r *DataRecord) HasErrors() bool {
	return len(r.Errors) > 0
}

// Clone returns a deep-enough copy of the record: the field map is copied,
// field values are shared. The clone receives its own error list.
func (r *DataRecord) Clone() *DataRecord {
	fields := make(map[string]interface{}, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	clone := &DataRecord{
		ID:        r.ID,
		Fields:    fields,
		Source:    r.Source,
		RowNumber: r.RowNumber,
	}
	if len(r.Errors) > 0 {
		clone.Errors = append([]RecordError(nil), r.Errors...)
	}
	return clone
}
