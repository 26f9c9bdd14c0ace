package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType names a pipeline lifecycle notification.
type EventType string

const (
	EventPipelineStarted   EventType = "pipeline.started"
	EventPipelineCompleted EventType = "pipeline.completed"
	EventPipelineFailed    EventType = "pipeline.failed"
	EventStageCompleted    EventType = "pipeline.stage.completed"
)

// Event is one lifecycle notification. Delivery is best-effort; publishing
// failures never affect pipeline outcome.
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	PipelineID  string                 `json:"pipeline_id"`
	ExecutionID string                 `json:"execution_id"`
	Timestamp   time.Time              `json:"timestamp"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// NewEvent builds an event stamped with a fresh id and the current time.
func NewEvent(eventType EventType, pipelineID, executionID string, payload map[string]interface{}) Event {
	return Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		PipelineID:  pipelineID,
		ExecutionID: executionID,
		Timestamp:   time.Now(),
		Payload:     payload,
	}
}

// Publisher delivers lifecycle events to interested subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event Event) error { return nil }

// Handler consumes events from the in-memory bus.
type Handler func(event Event)

// Bus is an in-memory publisher suitable for tests and single-instance
// deployments. Handlers run synchronously; a failing handler does not stop
// the others.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	logger   *zap.Logger
}

// NewBus creates an empty in-memory event bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[EventType][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish fans the event out to subscribed handlers. Handler panics are
// recovered and logged.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.invoke(handler, event)
	}
	return nil
}

func (b *Bus) invoke(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event_type", string(event.Type)),
				zap.Any("panic", r))
		}
	}()
	handler(event)
}
