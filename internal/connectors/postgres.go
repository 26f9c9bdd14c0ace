package connectors

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/raulshma/etlez-sub001/internal/models"
)

// PostgresSource streams rows from a relational table. The connection
// string is a postgres DSN; the table name rides in options.
type PostgresSource struct {
	dsn       string
	table     string
	batchSize int
	db        *gorm.DB
}

// NewPostgresSource builds a postgres source from its configuration.
func NewPostgresSource(cfg Config) (*PostgresSource, error) {
	if cfg.ConnectionString == "" {
		return nil, models.NewConfigurationError("postgres source requires a DSN in connection_string")
	}
	table, err := stringOption(cfg, "table")
	if err != nil {
		return nil, err
	}
	return &PostgresSource{
		dsn:       cfg.ConnectionString,
		table:     table,
		batchSize: cfg.EffectiveBatchSize(),
	}, nil
}

func (s *PostgresSource) Open(ctx context.Context) error {
	db, err := gorm.Open(postgres.Open(s.dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return models.NewTransientError(fmt.Errorf("connect postgres source: %w", err))
	}
	s.db = db.WithContext(ctx)
	return nil
}

func (s *PostgresSource) Records(ctx context.Context) (<-chan *models.DataRecord, <-chan error) {
	out := make(chan *models.DataRecord)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)

		offset := 0
		var rowNumber int64
		for {
			var rows []map[string]interface{}
			err := s.db.WithContext(ctx).
				Table(s.table).
				Limit(s.batchSize).
				Offset(offset).
				Find(&rows).Error
			if err != nil {
				errs <- models.NewTransientError(fmt.Errorf("read table %q: %w", s.table, err))
				return
			}
			if len(rows) == 0 {
				return
			}
			for _, row := range rows {
				rowNumber++
				record := models.NewDataRecordFromFields(row)
				record.Source = s.table
				record.RowNumber = rowNumber
				select {
				case out <- record:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
			offset += len(rows)
		}
	}()
	return out, errs
}

func (s *PostgresSource) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PostgresDestination batch-inserts records into a relational table. The
// table must exist with columns matching the record field names.
type PostgresDestination struct {
	dsn   string
	table string
	db    *gorm.DB
}

// NewPostgresDestination builds a postgres destination from its configuration.
func NewPostgresDestination(cfg Config) (*PostgresDestination, error) {
	if cfg.ConnectionString == "" {
		return nil, models.NewConfigurationError("postgres destination requires a DSN in connection_string")
	}
	table, err := stringOption(cfg, "table")
	if err != nil {
		return nil, err
	}
	return &PostgresDestination{dsn: cfg.ConnectionString, table: table}, nil
}

func (d *PostgresDestination) Open(ctx context.Context) error {
	db, err := gorm.Open(postgres.Open(d.dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return models.NewTransientError(fmt.Errorf("connect postgres destination: %w", err))
	}
	d.db = db
	return nil
}

func (d *PostgresDestination) Write(ctx context.Context, records []*models.DataRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	rows := make([]map[string]interface{}, 0, len(records))
	for _, record := range records {
		rows = append(rows, record.Fields)
	}
	if err := d.db.WithContext(ctx).Table(d.table).Create(&rows).Error; err != nil {
		return 0, models.NewTransientError(fmt.Errorf("insert into %q: %w", d.table, err))
	}
	return len(records), nil
}

func (d *PostgresDestination) Close(ctx context.Context) error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
