package metrics

import "sync"

type recordKey struct{ operation, label string }

// TestRecorder keeps everything it is given in memory for assertions
type TestRecorder struct {
	mu         sync.Mutex
	operations map[recordKey]int
	errors     map[recordKey]int
	durations  map[string][]float64
}

func NewTestRecorder() *TestRecorder {
	r := &TestRecorder{}
	r.Reset()
	return r
}

func (r *TestRecorder) RecordOperation(operation, status string) {
	r.mu.Lock()
	r.operations[recordKey{operation, status}]++
	r.mu.Unlock()
}

func (r *TestRecorder) RecordDuration(operation string, seconds float64) {
	r.mu.Lock()
	r.durations[operation] = append(r.durations[operation], seconds)
	r.mu.Unlock()
}

func (r *TestRecorder) RecordError(operation, errorType string) {
	r.mu.Lock()
	r.errors[recordKey{operation, errorType}]++
	r.mu.Unlock()
}

// GetOperationCount returns how often operation was recorded with status
func (r *TestRecorder) GetOperationCount(operation, status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.operations[recordKey{operation, status}]
}

// GetErrorCount returns how often operation failed with errorType
func (r *TestRecorder) GetErrorCount(operation, errorType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors[recordKey{operation, errorType}]
}

// GetDurations returns a copy of the durations recorded for operation
func (r *TestRecorder) GetDurations(operation string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.durations[operation]) == 0 {
		return nil
	}
	return append([]float64(nil), r.durations[operation]...)
}

func (r *TestRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations = make(map[recordKey]int)
	r.errors = make(map[recordKey]int)
	r.durations = make(map[string][]float64)
}
