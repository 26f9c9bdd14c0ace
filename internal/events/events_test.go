package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewEventStampsIdentity(t *testing.T) {
	event := NewEvent(EventPipelineStarted, "p1", "e1", map[string]interface{}{"k": "v"})
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, "p1", event.PipelineID)
	assert.Equal(t, "e1", event.ExecutionID)
}

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	var started, completed int
	bus.Subscribe(EventPipelineStarted, func(event Event) { started++ })
	bus.Subscribe(EventPipelineStarted, func(event Event) { started++ })
	bus.Subscribe(EventPipelineCompleted, func(event Event) { completed++ })

	require.NoError(t, bus.Publish(context.Background(), NewEvent(EventPipelineStarted, "p", "e", nil)))
	assert.Equal(t, 2, started)
	assert.Equal(t, 0, completed)
}

func TestBusContainsHandlerPanics(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	var after bool
	bus.Subscribe(EventPipelineFailed, func(event Event) { panic("handler bug") })
	bus.Subscribe(EventPipelineFailed, func(event Event) { after = true })

	require.NoError(t, bus.Publish(context.Background(), NewEvent(EventPipelineFailed, "p", "e", nil)))
	assert.True(t, after)
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), Event{}))
}
