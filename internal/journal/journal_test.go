package journal

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchgraph/ingen/internal/engine"
	"github.com/patchgraph/ingen/internal/logger"
	"github.com/patchgraph/ingen/internal/observability/metrics"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func openTestStore(t *testing.T, rec metrics.Recorder) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"), rec, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(client, kind string, ok bool, finalized time.Time) engine.Record {
	outcome := "ok"
	if !ok {
		outcome = "not_found"
	}
	return engine.Record{
		RequestID: 1,
		Client:    client,
		Kind:      kind,
		Path:      "/osc",
		OK:        ok,
		Outcome:   outcome,
		Time:      4096,
		Submitted: finalized.Add(-2 * time.Millisecond),
		Finalized: finalized,
	}
}

func TestInsertAndQuery(t *testing.T) {
	t.Parallel()

	rec := metrics.NewTestRecorder()
	s := openTestStore(t, rec)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Insert(ctx, []engine.Record{
		record("alice", "create_node", true, now.Add(-time.Minute)),
		record("bob", "connect", false, now.Add(-time.Second)),
		record("alice", "set_port_value", true, now),
	}))
	require.NoError(t, s.Insert(ctx, nil))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	all, err := s.Recent(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "set_port_value", all[0].Kind, "newest first")
	assert.Len(t, all[0].UUID, 36)
	assert.NotEqual(t, all[0].UUID, all[1].UUID)
	assert.InDelta(t, 2.0, all[0].LatencyMS, 0.01)
	assert.Equal(t, uint64(4096), all[0].FrameTime)

	alice, err := s.Recent(ctx, Query{Client: "alice"})
	require.NoError(t, err)
	assert.Len(t, alice, 2)

	failed, err := s.Recent(ctx, Query{Failed: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "not_found", failed[0].Outcome)

	recent, err := s.Recent(ctx, Query{Since: now.Add(-10 * time.Second), Limit: 1})
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	assert.Equal(t, 2, rec.GetOperationCount("journal_insert", "success"))
	assert.NotEmpty(t, rec.GetDurations("journal_insert"))
}

func TestPrune(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, nil)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Insert(ctx, []engine.Record{
		record("a", "ping", true, now.Add(-48*time.Hour)),
		record("a", "ping", true, now),
	}))

	deleted, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOpenInMemory(t *testing.T) {
	t.Parallel()

	s, err := Open(":memory:", nil, testLogger())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Insert(context.Background(), []engine.Record{record("m", "ping", true, time.Now())}))
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

type batchCounter struct{ sizes chan int }

func (b *batchCounter) ObserveBatch(n int) { b.sizes <- n }

func TestWriterBatchesAndFlushesOnStop(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, nil)
	b := engine.NewBroadcaster(testLogger())
	obs := &batchCounter{sizes: make(chan int, 8)}
	w := NewWriter(s, b, WriterConfig{BatchSize: 2, FlushInterval: time.Hour}, obs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, func() bool { return b.Stats().Subscribers == 1 }, 5*time.Second, time.Millisecond)

	now := time.Now()
	for _, kind := range []string{"create_node", "connect", "destroy"} {
		b.PublishRecord(record("w", kind, true, now))
	}
	select {
	case n := <-obs.sizes:
		assert.Equal(t, 2, n, "full batch written without waiting for the interval")
	case <-time.After(5 * time.Second):
		t.Fatal("no batch written")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, <-obs.sizes, "partial batch flushed on stop")
	assert.Equal(t, uint64(3), w.Written())
	assert.Zero(t, w.Failed())

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestWriterFlushesOnInterval(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, nil)
	b := engine.NewBroadcaster(testLogger())
	w := NewWriter(s, b, WriterConfig{BatchSize: 100, FlushInterval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, func() bool { return b.Stats().Subscribers == 1 }, 5*time.Second, time.Millisecond)

	b.PublishRecord(record("w", "ping", true, time.Now()))
	require.Eventually(t, func() bool { return w.Written() == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestWriterPrunesExpiredEntries(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, []engine.Record{record("old", "ping", true, time.Now().Add(-2*time.Hour))}))

	b := engine.NewBroadcaster(testLogger())
	w := NewWriter(s, b, WriterConfig{
		BatchSize:     10,
		FlushInterval: time.Hour,
		Retention:     time.Hour,
		PruneInterval: 5 * time.Millisecond,
	}, nil)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	require.Eventually(t, func() bool {
		n, err := s.Count(ctx)
		return err == nil && n == 0
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
