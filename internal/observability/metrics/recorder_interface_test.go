package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Recorder = (*TestRecorder)(nil)
	_ Recorder = NoOpRecorder{}
)

func TestTestRecorderCounts(t *testing.T) {
	t.Parallel()

	r := NewTestRecorder()
	r.RecordOperation(OpJournalInsert, StatusSuccess)
	r.RecordOperation(OpJournalInsert, StatusSuccess)
	r.RecordOperation(OpJournalInsert, StatusError)
	r.RecordError(OpJournalQuery, "database")
	r.RecordDuration(OpJournalPrune, 0.5)
	r.RecordDuration(OpJournalPrune, 0.25)

	assert.Equal(t, 2, r.GetOperationCount(OpJournalInsert, StatusSuccess))
	assert.Equal(t, 1, r.GetOperationCount(OpJournalInsert, StatusError))
	assert.Zero(t, r.GetOperationCount(OpJournalPrune, StatusSuccess))
	assert.Equal(t, 1, r.GetErrorCount(OpJournalQuery, "database"))
	assert.Equal(t, []float64{0.5, 0.25}, r.GetDurations(OpJournalPrune))
	assert.Nil(t, r.GetDurations(OpJournalQuery))

	r.Reset()
	assert.Zero(t, r.GetOperationCount(OpJournalInsert, StatusSuccess))
	assert.Nil(t, r.GetDurations(OpJournalPrune))
}

func TestTestRecorderConcurrent(t *testing.T) {
	t.Parallel()

	const workers, each = 8, 100
	r := NewTestRecorder()
	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			for range each {
				r.RecordOperation(OpJournalInsert, StatusSuccess)
				r.RecordDuration(OpJournalInsert, 0.001)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, workers*each, r.GetOperationCount(OpJournalInsert, StatusSuccess))
	assert.Len(t, r.GetDurations(OpJournalInsert), workers*each)
}

func TestJournalMetricsIsRecorder(t *testing.T) {
	t.Parallel()

	m, err := NewJournalMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	var rec Recorder = m
	assert.NotPanics(t, func() {
		rec.RecordOperation(OpJournalPrune, StatusSuccess)
		rec.RecordDuration(OpJournalPrune, 0.01)
		rec.RecordError(OpJournalPrune, "database")
	})
	assert.NotPanics(t, func() { NewNoOpRecorder().RecordError("x", "y") })
}
