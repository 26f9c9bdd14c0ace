package connectors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/raulshma/etlez-sub001/internal/models"
)

// RedisSource drains a redis list of JSON-encoded records. The connection
// string is a redis URL; the list key rides in options.
type RedisSource struct {
	url       string
	key       string
	batchSize int
	client    *redis.Client
}

// NewRedisSource builds a redis list source from its configuration.
func NewRedisSource(cfg Config) (*RedisSource, error) {
	if cfg.ConnectionString == "" {
		return nil, models.NewConfigurationError("redis source requires a URL in connection_string")
	}
	key, err := stringOption(cfg, "key")
	if err != nil {
		return nil, err
	}
	return &RedisSource{
		url:       cfg.ConnectionString,
		key:       key,
		batchSize: cfg.EffectiveBatchSize(),
	}, nil
}

func (s *RedisSource) Open(ctx context.Context) error {
	opts, err := redis.ParseURL(s.url)
	if err != nil {
		return models.NewConfigurationError("parse redis url: %v", err)
	}
	s.client = redis.NewClient(opts)
	if err := s.client.Ping(ctx).Err(); err != nil {
		return models.NewTransientError(fmt.Errorf("ping redis source: %w", err))
	}
	return nil
}

func (s *RedisSource) Records(ctx context.Context) (<-chan *models.DataRecord, <-chan error) {
	out := make(chan *models.DataRecord)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)

		var rowNumber int64
		for {
			values, err := s.client.LPopCount(ctx, s.key, s.batchSize).Result()
			if err != nil && err != redis.Nil {
				errs <- models.NewTransientError(fmt.Errorf("pop from list %q: %w", s.key, err))
				return
			}
			if err == redis.Nil || len(values) == 0 {
				return
			}
			for _, raw := range values {
				rowNumber++
				var fields map[string]interface{}
				if err := json.Unmarshal([]byte(raw), &fields); err != nil {
					errs <- fmt.Errorf("decode record %d from list %q: %w", rowNumber, s.key, err)
					return
				}
				record := models.NewDataRecordFromFields(fields)
				record.Source = s.key
				record.RowNumber = rowNumber
				select {
				case out <- record:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}
	}()
	return out, errs
}

func (s *RedisSource) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// RedisDestination pushes JSON-encoded records onto a redis list.
type RedisDestination struct {
	url    string
	key    string
	client *redis.Client
}

// NewRedisDestination builds a redis list destination from its configuration.
func NewRedisDestination(cfg Config) (*RedisDestination, error) {
	if cfg.ConnectionString == "" {
		return nil, models.NewConfigurationError("redis destination requires a URL in connection_string")
	}
	key, err := stringOption(cfg, "key")
	if err != nil {
		return nil, err
	}
	return &RedisDestination{url: cfg.ConnectionString, key: key}, nil
}

func (d *RedisDestination) Open(ctx context.Context) error {
	opts, err := redis.ParseURL(d.url)
	if err != nil {
		return models.NewConfigurationError("parse redis url: %v", err)
	}
	d.client = redis.NewClient(opts)
	if err := d.client.Ping(ctx).Err(); err != nil {
		return models.NewTransientError(fmt.Errorf("ping redis destination: %w", err))
	}
	return nil
}

func (d *RedisDestination) Write(ctx context.Context, records []*models.DataRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	values := make([]interface{}, 0, len(records))
	for _, record := range records {
		payload, err := json.Marshal(record.Fields)
		if err != nil {
			return 0, fmt.Errorf("encode record %s: %w", record.ID, err)
		}
		values = append(values, payload)
	}
	if err := d.client.RPush(ctx, d.key, values...).Err(); err != nil {
		return 0, models.NewTransientError(fmt.Errorf("push to list %q: %w", d.key, err))
	}
	return len(records), nil
}

func (d *RedisDestination) Close(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}
