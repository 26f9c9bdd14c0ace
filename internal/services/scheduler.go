package services

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler triggers stored pipelines on their cron schedules.
type Scheduler struct {
	service *PipelineService
	cron    *cron.Cron
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewScheduler creates a stopped scheduler over the pipeline service.
func NewScheduler(service *PipelineService, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		service: service,
		cron:    cron.New(),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers a cron trigger for a pipeline, replacing any existing one.
func (s *Scheduler) Add(pipelineID, spec string) error {
	if spec == "" {
		return errors.Errorf("pipeline %s has no schedule", pipelineID)
	}

	id, err := s.cron.AddFunc(spec, func() {
		execID, err := s.service.Execute(context.Background(), pipelineID)
		if err != nil {
			s.logger.Warn("scheduled execution not started",
				zap.String("pipeline_id", pipelineID),
				zap.Error(err))
			return
		}
		s.logger.Info("scheduled execution started",
			zap.String("pipeline_id", pipelineID),
			zap.String("execution_id", execID))
	})
	if err != nil {
		return errors.Wrapf(err, "schedule pipeline %s", pipelineID)
	}

	s.mu.Lock()
	if old, ok := s.entries[pipelineID]; ok {
		s.cron.Remove(old)
	}
	s.entries[pipelineID] = id
	s.mu.Unlock()
	return nil
}

// Remove drops a pipeline's cron trigger if one exists.
func (s *Scheduler) Remove(pipelineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[pipelineID]; ok {
		s.cron.Remove(id)
		delete(s.entries, pipelineID)
	}
}

// LoadFromStore registers triggers for every stored pipeline that carries a
// schedule. Invalid schedules are logged and skipped.
func (s *Scheduler) LoadFromStore(ctx context.Context) error {
	records, err := s.service.List(ctx, 100, 0)
	if err != nil {
		return errors.Wrap(err, "list pipelines for scheduling")
	}
	for _, record := range records {
		if record.Schedule == "" || !record.IsEnabled {
			continue
		}
		if err := s.Add(record.ID, record.Schedule); err != nil {
			s.logger.Warn("skipping invalid schedule",
				zap.String("pipeline_id", record.ID),
				zap.String("schedule", record.Schedule),
				zap.Error(err))
		}
	}
	return nil
}

// Start begins firing triggers.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.mu.Lock()
	count := len(s.entries)
	s.mu.Unlock()
	s.logger.Info("scheduler started", zap.Int("entries", count))
}

// Stop halts trigger firing; running executions are unaffected.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}
