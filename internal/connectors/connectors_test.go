package connectors

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raulshma/etlez-sub001/internal/models"
)

func drain(t *testing.T, source Source) []*models.DataRecord {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, source.Open(ctx))
	defer source.Close(ctx)

	var out []*models.DataRecord
	records, errs := source.Records(ctx)
	for record := range records {
		out = append(out, record)
	}
	require.NoError(t, <-errs)
	return out
}

func TestRegistryResolvesBuiltins(t *testing.T) {
	registry := NewRegistry()

	source, err := registry.NewSource(Config{Type: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, source)

	dest, err := registry.NewDestination(Config{Type: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, dest)

	_, err = registry.NewSource(Config{Type: "kafka"})
	require.Error(t, err)
	assert.True(t, models.IsConfiguration(err))
}

func TestRegistryCustomConnector(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterSource("fixed", func(cfg Config) (Source, error) {
		return NewMemorySource([]*models.DataRecord{models.NewDataRecord()}), nil
	})

	source, err := registry.NewSource(Config{Type: "fixed"})
	require.NoError(t, err)
	assert.Len(t, drain(t, source), 1)
}

func TestEffectiveBatchSize(t *testing.T) {
	assert.Equal(t, DefaultBatchSize, Config{}.EffectiveBatchSize())
	assert.Equal(t, 25, Config{BatchSize: 25}.EffectiveBatchSize())
}

func TestMemoryRoundTrip(t *testing.T) {
	records := []*models.DataRecord{
		models.NewDataRecordFromFields(map[string]interface{}{"a": 1}),
		models.NewDataRecordFromFields(map[string]interface{}{"a": 2}),
	}
	source := NewMemorySource(records)
	assert.Len(t, drain(t, source), 2)

	dest := NewMemoryDestination()
	ctx := context.Background()
	require.NoError(t, dest.Open(ctx))
	n, err := dest.Write(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, dest.Close(ctx))
	assert.Len(t, dest.Written(), 2)
}

func TestCSVSourceReadsHeaderedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,name\n1,Ada\n2,Grace\n"), 0o600))

	source, err := NewCSVSource(Config{Type: "csv", ConnectionString: path})
	require.NoError(t, err)

	records := drain(t, source)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].GetString("id"))
	assert.Equal(t, "Ada", records[0].GetString("name"))
	assert.Equal(t, int64(1), records[0].RowNumber)
	assert.Equal(t, path, records[0].Source)
	assert.Equal(t, "Grace", records[1].GetString("name"))
}

func TestCSVSourceRequiresPath(t *testing.T) {
	_, err := NewCSVSource(Config{Type: "csv"})
	require.Error(t, err)
	assert.True(t, models.IsConfiguration(err))
}

func TestCSVDestinationWritesSortedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	dest, err := NewCSVDestination(Config{Type: "csv", ConnectionString: path})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, dest.Open(ctx))
	n, err := dest.Write(ctx, []*models.DataRecord{
		models.NewDataRecordFromFields(map[string]interface{}{"b": "2", "a": "1"}),
		models.NewDataRecordFromFields(map[string]interface{}{"b": "4", "a": "3"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, dest.Close(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n3,4\n", string(data))
}

func TestCSVRoundTripThroughFiles(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(in, []byte("x\nfoo\nbar\n"), 0o600))

	registry := NewRegistry()
	source, err := registry.NewSource(Config{Type: "csv", ConnectionString: in})
	require.NoError(t, err)
	records := drain(t, source)

	dest, err := registry.NewDestination(Config{Type: "csv", ConnectionString: out})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, dest.Open(ctx))
	_, err = dest.Write(ctx, records)
	require.NoError(t, err)
	require.NoError(t, dest.Close(ctx))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "x\nfoo\nbar\n", string(data))
}

func TestRedisSourceSurfacesConnectionErrors(t *testing.T) {
	// Nothing listens on this address, so the first pop fails with a dial
	// error rather than an end-of-list redis.Nil.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	source := &RedisSource{key: "jobs", batchSize: 10, client: client}
	records, errs := source.Records(context.Background())
	for range records {
		t.Fatal("no records expected from a failing client")
	}

	err := <-errs
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))
	assert.Contains(t, err.Error(), "jobs")
}
