package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormPipelineRepository struct {
	db *gorm.DB
}

func (r *gormPipelineRepository) Save(ctx context.Context, record *PipelineRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(record).Error
}

func (r *gormPipelineRepository) GetByID(ctx context.Context, id string) (*PipelineRecord, error) {
	var record PipelineRecord
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *gormPipelineRepository) List(ctx context.Context, limit, offset int) ([]*PipelineRecord, error) {
	var records []*PipelineRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	return records, err
}

func (r *gormPipelineRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&PipelineRecord{}, "id = ?", id).Error
}

type gormExecutionRepository struct {
	db *gorm.DB
}

func (r *gormExecutionRepository) Save(ctx context.Context, record *ExecutionRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "execution_id"}},
			UpdateAll: true,
		}).
		Create(record).Error
}

func (r *gormExecutionRepository) GetByID(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	var record ExecutionRecord
	err := r.db.WithContext(ctx).First(&record, "execution_id = ?", executionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *gormExecutionRepository) ListByPipeline(ctx context.Context, pipelineID string, limit, offset int) ([]*ExecutionRecord, error) {
	var records []*ExecutionRecord
	err := r.db.WithContext(ctx).
		Where("pipeline_id = ?", pipelineID).
		Order("started_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	return records, err
}
