// Package metrics provides Prometheus metrics for the ingen engine and its transports.
package metrics

// Recorder records operation outcomes. The journal depends on it rather
// than on JournalMetrics so tests can observe what it reports.
type Recorder interface {
	// RecordOperation counts an operation with status StatusSuccess or StatusError
	RecordOperation(operation, status string)
	// RecordDuration records how long an operation took in seconds
	RecordDuration(operation string, seconds float64)
	// RecordError counts a failure of operation by category
	RecordError(operation, errorType string)
}

// NoOpRecorder discards everything
type NoOpRecorder struct{}

func NewNoOpRecorder() NoOpRecorder { return NoOpRecorder{} }

func (NoOpRecorder) RecordOperation(string, string) {}
func (NoOpRecorder) RecordDuration(string, float64) {}
func (NoOpRecorder) RecordError(string, string)     {}
