package connectors

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/raulshma/etlez-sub001/internal/models"
)

// CSVSource streams records from a headered CSV file. Every field arrives
// as a string; type coercion belongs to transform stages.
type CSVSource struct {
	path string
	file *os.File
}

// NewCSVSource builds a CSV source; the connection string is the file path.
func NewCSVSource(cfg Config) (*CSVSource, error) {
	if cfg.ConnectionString == "" {
		return nil, models.NewConfigurationError("csv source requires a file path in connection_string")
	}
	return &CSVSource{path: cfg.ConnectionString}, nil
}

func (s *CSVSource) Open(ctx context.Context) error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open csv source %q: %w", s.path, err)
	}
	s.file = file
	return nil
}

func (s *CSVSource) Records(ctx context.Context) (<-chan *models.DataRecord, <-chan error) {
	out := make(chan *models.DataRecord)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)

		reader := csv.NewReader(s.file)
		header, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			errs <- fmt.Errorf("read csv header: %w", err)
			return
		}

		var rowNumber int64
		for {
			row, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errs <- fmt.Errorf("read csv row %d: %w", rowNumber+1, err)
				return
			}
			rowNumber++

			record := models.NewDataRecord()
			record.Source = s.path
			record.RowNumber = rowNumber
			for i, column := range header {
				if i < len(row) {
					record.Set(column, row[i])
				}
			}
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

func (s *CSVSource) Close(ctx context.Context) error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// CSVDestination appends records to a CSV file. The header is derived from
// the first batch's field names, sorted for a stable column order.
type CSVDestination struct {
	path   string
	file   *os.File
	writer *csv.Writer
	header []string
}

// NewCSVDestination builds a CSV destination; the connection string is the
// file path.
func NewCSVDestination(cfg Config) (*CSVDestination, error) {
	if cfg.ConnectionString == "" {
		return nil, models.NewConfigurationError("csv destination requires a file path in connection_string")
	}
	return &CSVDestination{path: cfg.ConnectionString}, nil
}

func (d *CSVDestination) Open(ctx context.Context) error {
	file, err := os.Create(d.path)
	if err != nil {
		return fmt.Errorf("create csv destination %q: %w", d.path, err)
	}
	d.file = file
	d.writer = csv.NewWriter(file)
	return nil
}

func (d *CSVDestination) Write(ctx context.Context, records []*models.DataRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	if d.header == nil {
		d.header = records[0].FieldNames()
		sort.Strings(d.header)
		if err := d.writer.Write(d.header); err != nil {
			return 0, fmt.Errorf("write csv header: %w", err)
		}
	}

	written := 0
	for _, record := range records {
		row := make([]string, len(d.header))
		for i, column := range d.header {
			if v, ok := record.Get(column); ok && v != nil {
				row[i] = fmt.Sprintf("%v", v)
			}
		}
		if err := d.writer.Write(row); err != nil {
			return written, fmt.Errorf("write csv row: %w", err)
		}
		written++
	}
	d.writer.Flush()
	if err := d.writer.Error(); err != nil {
		return written, fmt.Errorf("flush csv destination: %w", err)
	}
	return written, nil
}

func (d *CSVDestination) Close(ctx context.Context) error {
	if d.writer != nil {
		d.writer.Flush()
	}
	if d.file == nil {
		return nil
	}
	return d.file.Close()
}
