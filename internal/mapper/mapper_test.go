package mapper

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/raulshma/etlez-sub001/internal/models"
)

func TestMappingIsAProjection(t *testing.T) {
	m := NewMapper(zaptest.NewLogger(t))
	require.NoError(t, m.AddMapping("first_name", "FirstName", nil))

	record := models.NewDataRecordFromFields(map[string]interface{}{
		"first_name": "Grace",
		"unmapped":   "dropped",
	})
	out, err := m.Map(context.Background(), []*models.DataRecord{record})
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, "Grace", out[0].GetString("FirstName"))
	assert.False(t, out[0].Has("unmapped"))
	assert.False(t, out[0].Has("first_name"))
}

func TestMappingPreservesProvenance(t *testing.T) {
	m := NewMapper(zaptest.NewLogger(t))
	require.NoError(t, m.AddMapping("a", "A", nil))

	record := models.NewDataRecordFromFields(map[string]interface{}{"a": 1})
	record.Source = "orders.csv"
	record.RowNumber = 42

	out, err := m.Map(context.Background(), []*models.DataRecord{record})
	require.NoError(t, err)
	assert.Equal(t, "orders.csv", out[0].Source)
	assert.Equal(t, int64(42), out[0].RowNumber)
}

func TestDuplicateSourceFieldRejected(t *testing.T) {
	m := NewMapper(zaptest.NewLogger(t))
	require.NoError(t, m.AddMapping("email", "Email", nil))
	assert.Error(t, m.AddMapping("email", "Contact", nil))
}

func TestMissingSourceFieldYieldsNil(t *testing.T) {
	m := NewMapper(zaptest.NewLogger(t))
	require.NoError(t, m.AddMapping("phone", "Phone", nil))

	out, err := m.Map(context.Background(), []*models.DataRecord{models.NewDataRecord()})
	require.NoError(t, err)
	v, ok := out[0].Get("Phone")
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.False(t, out[0].HasErrors())
}

func TestTransformAndConstantMappings(t *testing.T) {
	m := NewMapper(zaptest.NewLogger(t))
	require.NoError(t, m.AddMapping("name", "Name", func(v interface{}) (interface{}, error) {
		return strings.ToUpper(v.(string)), nil
	}))
	require.NoError(t, m.AddConstantMapping("Source", "legacy"))

	record := models.NewDataRecordFromFields(map[string]interface{}{"name": "ada"})
	out, err := m.Map(context.Background(), []*models.DataRecord{record})
	require.NoError(t, err)
	assert.Equal(t, "ADA", out[0].GetString("Name"))
	assert.Equal(t, "legacy", out[0].GetString("Source"))
}

func TestConditionalReadsEarlierMappings(t *testing.T) {
	m := NewMapper(zaptest.NewLogger(t))
	require.NoError(t, m.AddMapping("total", "Total", nil))
	require.NoError(t, m.AddConditionalMapping("Size", func(record *models.DataRecord) (interface{}, error) {
		// Reads the destination field written by the direct mapping above.
		v, _ := record.Get("Total")
		if n, ok := v.(int); ok && n > 100 {
			return "large", nil
		}
		return "small", nil
	}))

	records := []*models.DataRecord{
		models.NewDataRecordFromFields(map[string]interface{}{"total": 250}),
		models.NewDataRecordFromFields(map[string]interface{}{"total": 10}),
	}
	out, err := m.Map(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, "large", out[0].GetString("Size"))
	assert.Equal(t, "small", out[1].GetString("Size"))
}

func TestFailedTransformRetainsFlaggedRecord(t *testing.T) {
	m := NewMapper(zaptest.NewLogger(t))
	require.NoError(t, m.AddMapping("amount", "Amount", func(v interface{}) (interface{}, error) {
		return nil, fmt.Errorf("not a number: %v", v)
	}))
	require.NoError(t, m.AddMapping("id", "ID", nil))

	record := models.NewDataRecordFromFields(map[string]interface{}{"amount": "abc", "id": 7})
	out, err := m.Map(context.Background(), []*models.DataRecord{record})
	require.NoError(t, err)
	require.Len(t, out, 1)

	// The record survives with the error flagged and other fields mapped.
	require.True(t, out[0].HasErrors())
	assert.Equal(t, "mapping:Amount", out[0].Errors[0].Source)
	v, _ := out[0].Get("ID")
	assert.Equal(t, 7, v)
}

func TestPanickingConditionalIsContained(t *testing.T) {
	m := NewMapper(zaptest.NewLogger(t))
	require.NoError(t, m.AddConditionalMapping("Derived", func(record *models.DataRecord) (interface{}, error) {
		panic("bad logic")
	}))

	out, err := m.Map(context.Background(), []*models.DataRecord{models.NewDataRecord()})
	require.NoError(t, err)
	assert.True(t, out[0].HasErrors())
	assert.False(t, out[0].Has("Derived"))
}

func TestMapHonorsCancellation(t *testing.T) {
	m := NewMapper(zaptest.NewLogger(t))
	require.NoError(t, m.AddMapping("a", "A", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Map(ctx, []*models.DataRecord{models.NewDataRecord()})
	assert.ErrorIs(t, err, context.Canceled)
}
