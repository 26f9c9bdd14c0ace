package connectors

import (
	"context"
	"sync"

	"github.com/raulshma/etlez-sub001/internal/models"
)

// MemorySource serves a fixed record slice. Used by tests and as the
// default source for programmatically built pipelines.
type MemorySource struct {
	records []*models.DataRecord
}

// NewMemorySource creates a source over the given records.
func NewMemorySource(records []*models.DataRecord) *MemorySource {
	return &MemorySource{records: records}
}

// SetRecords replaces the record set before Open.
func (s *MemorySource) SetRecords(records []*models.DataRecord) {
	s.records = records
}

func (s *MemorySource) Open(ctx context.Context) error { return nil }

func (s *MemorySource) Records(ctx context.Context) (<-chan *models.DataRecord, <-chan error) {
	out := make(chan *models.DataRecord)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, record := range s.records {
			select {
			case out <- record:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return out, errs
}

func (s *MemorySource) Close(ctx context.Context) error { return nil }

// MemoryDestination accumulates written records in memory.
type MemoryDestination struct {
	mu      sync.Mutex
	records []*models.DataRecord
}

// NewMemoryDestination creates an empty in-memory destination.
func NewMemoryDestination() *MemoryDestination {
	return &MemoryDestination{}
}

func (d *MemoryDestination) Open(ctx context.Context) error { return nil }

func (d *MemoryDestination) Write(ctx context.Context, records []*models.DataRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, records...)
	return len(records), nil
}

func (d *MemoryDestination) Close(ctx context.Context) error { return nil }

// Written returns a copy of everything written so far.
func (d *MemoryDestination) Written() []*models.DataRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*models.DataRecord(nil), d.records...)
}
