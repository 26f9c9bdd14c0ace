package repositories

import (
	"context"
	"sort"
	"sync"
)

type memoryPipelineRepository struct {
	mu      sync.RWMutex
	records map[string]*PipelineRecord
}

func newMemoryPipelineRepository() *memoryPipelineRepository {
	return &memoryPipelineRepository{records: make(map[string]*PipelineRecord)}
}

func (r *memoryPipelineRepository) Save(ctx context.Context, record *PipelineRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = record
	return nil
}

func (r *memoryPipelineRepository) GetByID(ctx context.Context, id string) (*PipelineRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[id], nil
}

func (r *memoryPipelineRepository) List(ctx context.Context, limit, offset int) ([]*PipelineRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*PipelineRecord, 0, len(r.records))
	for _, record := range r.records {
		all = append(all, record)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return paginate(all, limit, offset), nil
}

func (r *memoryPipelineRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}

type memoryExecutionRepository struct {
	mu      sync.RWMutex
	records map[string]*ExecutionRecord
}

func newMemoryExecutionRepository() *memoryExecutionRepository {
	return &memoryExecutionRepository{records: make(map[string]*ExecutionRecord)}
}

func (r *memoryExecutionRepository) Save(ctx context.Context, record *ExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ExecutionID] = record
	return nil
}

func (r *memoryExecutionRepository) GetByID(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[executionID], nil
}

func (r *memoryExecutionRepository) ListByPipeline(ctx context.Context, pipelineID string, limit, offset int) ([]*ExecutionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*ExecutionRecord
	for _, record := range r.records {
		if record.PipelineID == pipelineID {
			matched = append(matched, record)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	return paginate(matched, limit, offset), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
