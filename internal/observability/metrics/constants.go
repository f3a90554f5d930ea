// Package metrics provides constants used across metric definitions.
package metrics

// Operation type constants used by Recorder implementations.
const (
	// OpJournalInsert represents journal batch insert operations.
	OpJournalInsert = "journal_insert"
	// OpJournalQuery represents journal query operations.
	OpJournalQuery = "journal_query"
	// OpJournalPrune represents journal retention operations.
	OpJournalPrune = "journal_prune"
)

// Status label values.
const (
	// StatusSuccess marks a successful operation.
	StatusSuccess = "success"
	// StatusError marks a failed operation.
	StatusError = "error"
)

// Histogram bucket configuration constants.
// These define the base values and factors for exponential bucket generation.
const (
	// BucketStart10us is the starting bucket for 10µs histograms (10µs to ~20ms range).
	BucketStart10us = 0.00001
	// BucketStart100us is the starting bucket for 0.1ms histograms (0.1ms to ~1.6s range).
	BucketStart100us = 0.0001
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart64B is the starting bucket for 64 byte histograms.
	BucketStart64B = 64.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)
