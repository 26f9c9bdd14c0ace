package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/raulshma/etlez-sub001/internal/models"
)

func setField(field string, value interface{}) Action {
	return func(record *models.DataRecord) error {
		record.Set(field, value)
		return nil
	}
}

func matchAll(record *models.DataRecord) bool { return true }

func TestAddRuleValidation(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))
	assert.Error(t, engine.AddRule(nil))
	assert.Error(t, engine.AddRule(&Rule{Name: "no-action", Predicate: matchAll}))
	assert.Error(t, engine.AddRule(&Rule{Name: "no-predicate", Action: setField("x", 1)}))
}

func TestRulesEvaluateInPriorityOrder(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))
	var order []string
	add := func(name string, priority int) {
		require.NoError(t, engine.AddRule(&Rule{
			Name:      name,
			Priority:  priority,
			Predicate: matchAll,
			Action: func(record *models.DataRecord) error {
				order = append(order, name)
				return nil
			},
		}))
	}
	add("third", 30)
	add("first", 10)
	add("second", 20)
	add("second-b", 20) // same priority, registered later

	_, err := engine.Process(context.Background(), []*models.DataRecord{models.NewDataRecord()})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "second-b", "third"}, order)
}

func TestCascadingRulesApplyCumulatively(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))
	require.NoError(t, engine.AddRule(&Rule{
		Name:     "flag-premium",
		Priority: 1,
		Predicate: func(r *models.DataRecord) bool {
			return r.GetString("CustomerType") == "Premium"
		},
		Action: setField("Discount", 0.1),
	}))
	require.NoError(t, engine.AddRule(&Rule{
		Name:     "boost-discount",
		Priority: 2,
		Predicate: func(r *models.DataRecord) bool {
			v, _ := r.Get("Discount")
			return v == 0.1
		},
		Action: setField("Tier", "gold"),
	}))

	records := []*models.DataRecord{
		models.NewDataRecordFromFields(map[string]interface{}{"CustomerType": "Premium"}),
		models.NewDataRecordFromFields(map[string]interface{}{"CustomerType": "Basic"}),
	}
	out, err := engine.Process(context.Background(), records)
	require.NoError(t, err)

	// A later rule sees the earlier rule's write on the same record.
	v, _ := out[0].Get("Discount")
	assert.Equal(t, 0.1, v)
	assert.Equal(t, "gold", out[0].GetString("Tier"))

	assert.False(t, out[1].Has("Discount"))
	assert.False(t, out[1].Has("Tier"))
}

func TestFailingActionFlagsRecordAndContinues(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))
	require.NoError(t, engine.AddRule(&Rule{
		Name:      "explode",
		Priority:  1,
		Predicate: matchAll,
		Action: func(record *models.DataRecord) error {
			panic("kaboom")
		},
	}))
	require.NoError(t, engine.AddRule(&Rule{
		Name:      "still-runs",
		Priority:  2,
		Predicate: matchAll,
		Action:    setField("after", true),
	}))

	records := []*models.DataRecord{models.NewDataRecord(), models.NewDataRecord()}
	out, err := engine.Process(context.Background(), records)
	require.NoError(t, err)

	for _, record := range out {
		require.True(t, record.HasErrors())
		assert.Equal(t, "rule:explode", record.Errors[0].Source)
		assert.True(t, record.Has("after"))
	}
}

func TestPredicatePanicSkipsRule(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))
	require.NoError(t, engine.AddRule(&Rule{
		Name:     "bad-predicate",
		Priority: 1,
		Predicate: func(r *models.DataRecord) bool {
			var m map[string]int
			m["x"] = 1 // panics
			return true
		},
		Action: setField("never", true),
	}))

	out, err := engine.Process(context.Background(), []*models.DataRecord{models.NewDataRecord()})
	require.NoError(t, err)
	assert.False(t, out[0].Has("never"))
	assert.True(t, out[0].HasErrors())
}

func TestLastWriteWinsOnSharedField(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))
	require.NoError(t, engine.AddRule(&Rule{
		Name: "writer-1", Priority: 1, Predicate: matchAll, Action: setField("status", "a"),
	}))
	require.NoError(t, engine.AddRule(&Rule{
		Name: "writer-2", Priority: 2, Predicate: matchAll, Action: setField("status", "b"),
	}))

	out, err := engine.Process(context.Background(), []*models.DataRecord{models.NewDataRecord()})
	require.NoError(t, err)
	assert.Equal(t, "b", out[0].GetString("status"))
	assert.False(t, out[0].HasErrors())
}

func TestProcessStopsOnCancelledContext(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))
	require.NoError(t, engine.AddRule(&Rule{
		Name: "noop", Priority: 1, Predicate: matchAll, Action: setField("x", 1),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Process(ctx, []*models.DataRecord{models.NewDataRecord()})
	assert.ErrorIs(t, err, context.Canceled)
}
