package connectors

import (
	"context"
	"sync"

	"github.com/raulshma/etlez-sub001/internal/models"
)

// Config is the slice of adapter configuration the engine depends on.
// Anything connector-specific rides in Options.
type Config struct {
	Type             string                 `json:"type" yaml:"type" validate:"required"`
	ConnectionString string                 `json:"connection_string" yaml:"connection_string"`
	BatchSize        int                    `json:"batch_size" yaml:"batch_size"`
	Options          map[string]interface{} `json:"options" yaml:"options"`
}

// DefaultBatchSize applies when a connector config omits the batch size.
const DefaultBatchSize = 500

// EffectiveBatchSize returns the configured batch size or the default.
func (c Config) EffectiveBatchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return DefaultBatchSize
}

// Source reads records as an asynchronous sequence. Records and errors are
// delivered on channels that close when the source is exhausted; a read
// failure is reported on the error channel as a typed adapter error.
type Source interface {
	Open(ctx context.Context) error
	Records(ctx context.Context) (<-chan *models.DataRecord, <-chan error)
	Close(ctx context.Context) error
}

// Destination writes record batches, returning the count written and typed
// failures. Transient failures should be wrapped via models.NewTransientError.
type Destination interface {
	Open(ctx context.Context) error
	Write(ctx context.Context, records []*models.DataRecord) (int, error)
	Close(ctx context.Context) error
}

// SourceFactory builds a source from its configuration.
type SourceFactory func(cfg Config) (Source, error)

// DestinationFactory builds a destination from its configuration.
type DestinationFactory func(cfg Config) (Destination, error)

// Registry maps connector type names to factories. Connector packages
// register themselves at construction time; the engine resolves adapters by
// the type string in the pipeline definition.
type Registry struct {
	mu           sync.RWMutex
	sources      map[string]SourceFactory
	destinations map[string]DestinationFactory
}

// NewRegistry creates a registry pre-populated with the built-in connectors.
func NewRegistry() *Registry {
	r := &Registry{
		sources:      make(map[string]SourceFactory),
		destinations: make(map[string]DestinationFactory),
	}
	registerBuiltins(r)
	return r
}

// RegisterSource adds or replaces a source factory for the type name.
func (r *Registry) RegisterSource(name string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = factory
}

// RegisterDestination adds or replaces a destination factory.
func (r *Registry) RegisterDestination(name string, factory DestinationFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destinations[name] = factory
}

// NewSource resolves and builds a source for the configuration.
func (r *Registry) NewSource(cfg Config) (Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, models.NewConfigurationError("unknown source connector type %q", cfg.Type)
	}
	return factory(cfg)
}

// NewDestination resolves and builds a destination for the configuration.
func (r *Registry) NewDestination(cfg Config) (Destination, error) {
	r.mu.RLock()
	factory, ok := r.destinations[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, models.NewConfigurationError("unknown destination connector type %q", cfg.Type)
	}
	return factory(cfg)
}

// stringOption pulls a string out of the free-form options map.
func stringOption(cfg Config, key string) (string, error) {
	v, ok := cfg.Options[key]
	if !ok {
		return "", models.NewConfigurationError("connector %q requires option %q", cfg.Type, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", models.NewConfigurationError("connector %q option %q must be a string, got %T", cfg.Type, key, v)
	}
	return s, nil
}

func registerBuiltins(r *Registry) {
	r.RegisterSource("memory", func(cfg Config) (Source, error) {
		return NewMemorySource(nil), nil
	})
	r.RegisterDestination("memory", func(cfg Config) (Destination, error) {
		return NewMemoryDestination(), nil
	})
	r.RegisterSource("csv", func(cfg Config) (Source, error) {
		return NewCSVSource(cfg)
	})
	r.RegisterDestination("csv", func(cfg Config) (Destination, error) {
		return NewCSVDestination(cfg)
	})
	r.RegisterSource("postgres", func(cfg Config) (Source, error) {
		return NewPostgresSource(cfg)
	})
	r.RegisterDestination("postgres", func(cfg Config) (Destination, error) {
		return NewPostgresDestination(cfg)
	})
	r.RegisterSource("redis", func(cfg Config) (Source, error) {
		return NewRedisSource(cfg)
	})
	r.RegisterDestination("redis", func(cfg Config) (Destination, error) {
		return NewRedisDestination(cfg)
	})
}
