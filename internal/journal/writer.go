package journal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/patchgraph/ingen/internal/engine"
	"github.com/patchgraph/ingen/internal/logger"
)

// RecordSource is implemented by engine.Broadcaster
type RecordSource interface {
	SubscribeRecords(buffer int) (<-chan engine.Record, func())
}

// BatchObserver receives the size of every written batch
type BatchObserver interface {
	ObserveBatch(n int)
}

// WriterConfig sizes a Writer. With a positive Retention, entries older
// than Retention are pruned every PruneInterval.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	Retention     time.Duration
	PruneInterval time.Duration
}

// Writer drains finalized records into a Store in batches. A batch is
// written when it is full, when FlushInterval passes, and on shutdown.
type Writer struct {
	store    *Store
	source   RecordSource
	config   WriterConfig
	observer BatchObserver
	log      logger.Logger

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewWriter returns a writer; observer may be nil
func NewWriter(store *Store, source RecordSource, config WriterConfig, observer BatchObserver) *Writer {
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}
	if config.PruneInterval <= 0 {
		config.PruneInterval = time.Hour
	}
	return &Writer{
		store:    store,
		source:   source,
		config:   config,
		observer: observer,
		log:      store.log,
	}
}

// Run writes records until ctx is done, then flushes what is pending
func (w *Writer) Run(ctx context.Context) error {
	records, cancel := w.source.SubscribeRecords(w.config.BatchSize * 4)
	defer cancel()

	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	var prune <-chan time.Time
	if w.config.Retention > 0 {
		pt := time.NewTicker(w.config.PruneInterval)
		defer pt.Stop()
		prune = pt.C
		w.prune(ctx)
	}

	batch := make([]engine.Record, 0, w.config.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := w.store.Insert(ctx, batch); err != nil {
			w.failed.Add(uint64(len(batch)))
			w.log.Error("journal write failed", logger.Int("records", len(batch)), logger.Error(err))
		} else {
			w.written.Add(uint64(len(batch)))
			if w.observer != nil {
				w.observer.ObserveBatch(len(batch))
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Take what is already queued, then write with a fresh deadline
			for drained := false; !drained; {
				select {
				case r := <-records:
					batch = append(batch, r)
				default:
					drained = true
				}
			}
			final, cancelFinal := context.WithTimeout(context.Background(), 5*time.Second)
			flush(final)
			cancelFinal()
			return nil
		case r, ok := <-records:
			if !ok {
				flush(ctx)
				return nil
			}
			batch = append(batch, r)
			if len(batch) >= w.config.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-prune:
			w.prune(ctx)
		}
	}
}

func (w *Writer) prune(ctx context.Context) {
	n, err := w.store.Prune(ctx, time.Now().Add(-w.config.Retention))
	if err != nil {
		w.log.Warn("journal prune failed", logger.Error(err))
		return
	}
	if n > 0 {
		w.log.Debug("journal pruned", logger.Int64("entries", n))
	}
}

// Written returns the number of records stored
func (w *Writer) Written() uint64 { return w.written.Load() }

// Failed returns the number of records lost to write errors
func (w *Writer) Failed() uint64 { return w.failed.Load() }
