package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/taskflow/testutil"
	"github.com/BaSui01/taskflow/workflow"
)

func sampleSnapshot() *workflow.Snapshot {
	return &workflow.Snapshot{
		Definitions: map[string]*workflow.Definition{
			"etl": {Name: "etl", Steps: []workflow.Step{{Name: "load", Action: "noop"}}},
		},
		Instances: map[string]*workflow.Instance{},
		ScheduledEntries: map[string]*workflow.ScheduledEntry{
			"inst-1": {InstanceID: "inst-1", ScheduleTime: time.Now().Add(time.Minute), RetryCount: 1},
		},
		TakenAt: time.Now(),
	}
}

func checkRoundTrip(t *testing.T, store workflow.SnapshotStore) {
	t.Helper()
	ctx := testutil.TestContext(t)

	loaded, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded, "empty store loads nil")

	snap := sampleSnapshot()
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	loaded, err = store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Contains(t, loaded.Definitions, "etl")
	assert.Equal(t, "load", loaded.Definitions["etl"].Steps[0].Name)
	require.Contains(t, loaded.ScheduledEntries, "inst-1")
	assert.Equal(t, 1, loaded.ScheduledEntries["inst-1"].RetryCount)
}

func TestNewSnapshotStoreFactory(t *testing.T) {
	store, err := NewSnapshotStore(StoreConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store, "empty type defaults to memory")

	store, err = NewSnapshotStore(StoreConfig{Type: StoreTypeFile, Path: filepath.Join(t.TempDir(), "snap.json")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	_, err = NewSnapshotStore(StoreConfig{Type: "cassandra"}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	checkRoundTrip(t, NewMemoryStore())
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.ErrorIs(t, store.SaveSnapshot(ctx, sampleSnapshot()), ErrStoreClosed)
	_, err := store.LoadSnapshot(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Ping(ctx), ErrStoreClosed)
}

func TestMemoryStoreRejectsNil(t *testing.T) {
	store := NewMemoryStore()
	assert.ErrorIs(t, store.SaveSnapshot(context.Background(), nil), ErrInvalidInput)
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "snap.json"))
	require.NoError(t, err)
	checkRoundTrip(t, store)
}

func TestFileStoreCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "snap.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.SaveSnapshot(context.Background(), sampleSnapshot()))
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestFileStoreEmptyPath(t *testing.T) {
	_, err := NewFileStore("")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	ctx := context.Background()

	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveSnapshot(ctx, sampleSnapshot()))
	require.NoError(t, store.Close())

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	loaded, err := reopened.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Contains(t, loaded.Definitions, "etl")
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	store, err := NewFileStore(path)
	require.NoError(t, err)
	_, err = store.LoadSnapshot(context.Background())
	require.Error(t, err)
}

func TestFileStoreNoLeftoverTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.SaveSnapshot(context.Background(), sampleSnapshot()))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
}

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(StoreConfig{
		Type:  StoreTypeRedis,
		Redis: RedisStoreConfig{Addr: mr.Addr()},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStoreRoundTrip(t *testing.T) {
	checkRoundTrip(t, newTestRedisStore(t))
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(StoreConfig{
		Type:  StoreTypeRedis,
		Redis: RedisStoreConfig{Addr: mr.Addr(), KeyPrefix: "custom:"},
	}, nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveSnapshot(context.Background(), sampleSnapshot()))
	assert.True(t, mr.Exists("custom:snapshot"))
}

func TestRedisStoreConnectFailure(t *testing.T) {
	_, err := NewRedisStore(StoreConfig{
		Type:  StoreTypeRedis,
		Redis: RedisStoreConfig{Addr: "127.0.0.1:1"},
	}, nil)
	require.Error(t, err)
}

func TestRedisStorePing(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(StoreConfig{
		Type:  StoreTypeRedis,
		Redis: RedisStoreConfig{Addr: mr.Addr()},
	}, nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Ping(context.Background()))

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}
