package repositories

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/raulshma/etlez-sub001/internal/models"
)

// PipelineRecord persists a registered pipeline definition. The raw
// definition is kept verbatim so the loader can rebuild the pipeline.
type PipelineRecord struct {
	ID          string         `gorm:"primarykey;size:128" json:"id"`
	Name        string         `gorm:"size:255;not null" json:"name"`
	Description string         `gorm:"size:1024" json:"description,omitempty"`
	Definition  string         `gorm:"type:text;not null" json:"definition"`
	Schedule    string         `gorm:"size:128" json:"schedule,omitempty"`
	IsEnabled   bool           `gorm:"default:true" json:"is_enabled"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// ResultJSON stores a serialized execution result in a single column.
type ResultJSON models.PipelineExecutionResult

// Value implements driver.Valuer.
func (r ResultJSON) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner.
func (r *ResultJSON) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into ResultJSON", value)
	}
	return json.Unmarshal(bytes, r)
}

// ExecutionRecord persists the outcome of one pipeline execution.
type ExecutionRecord struct {
	ExecutionID string     `gorm:"primarykey;size:64" json:"execution_id"`
	PipelineID  string     `gorm:"size:128;not null;index" json:"pipeline_id"`
	Status      string     `gorm:"size:32;not null;index" json:"status"`
	IsSuccess   bool       `json:"is_success"`
	Result      ResultJSON `gorm:"type:jsonb" json:"result"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// PipelineRepository stores registered pipeline definitions.
type PipelineRepository interface {
	Save(ctx context.Context, record *PipelineRecord) error
	GetByID(ctx context.Context, id string) (*PipelineRecord, error)
	List(ctx context.Context, limit, offset int) ([]*PipelineRecord, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores execution outcomes.
type ExecutionRepository interface {
	Save(ctx context.Context, record *ExecutionRecord) error
	GetByID(ctx context.Context, executionID string) (*ExecutionRecord, error)
	ListByPipeline(ctx context.Context, pipelineID string, limit, offset int) ([]*ExecutionRecord, error)
}

// Repositories bundles the repository set handed to the service layer.
type Repositories struct {
	Pipelines  PipelineRepository
	Executions ExecutionRepository
}

// NewGormRepositories creates postgres-backed repositories and migrates
// their schema.
func NewGormRepositories(db *gorm.DB) (*Repositories, error) {
	if err := db.AutoMigrate(&PipelineRecord{}, &ExecutionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate repository schema: %w", err)
	}
	return &Repositories{
		Pipelines:  &gormPipelineRepository{db: db},
		Executions: &gormExecutionRepository{db: db},
	}, nil
}

// NewMemoryRepositories creates in-memory repositories for tests and
// standalone mode.
func NewMemoryRepositories() *Repositories {
	return &Repositories{
		Pipelines:  newMemoryPipelineRepository(),
		Executions: newMemoryExecutionRepository(),
	}
}
