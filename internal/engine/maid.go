package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patchgraph/ingen/internal/logger"
	"github.com/patchgraph/ingen/internal/rtqueue"
)

// Reclaimable is an object the audio thread retires and the maid destroys.
// Reclaim runs at most once; the generation is bumped when it does.
type Reclaimable interface {
	Generation() uint32
	Reclaim()
}

type maidEntry struct {
	obj Reclaimable
	gen uint32
}

// Maid defers destruction of retired objects to a non real-time goroutine.
//
// Push is called only from the audio thread (or from the deactivating
// goroutine once the audio thread has stopped). Cleanup may be called from
// any non real-time goroutine.
type Maid struct {
	queue *rtqueue.Ring[maidEntry]

	mu        sync.Mutex // serializes consumers
	leaked    atomic.Uint64
	reclaimed atomic.Uint64
	ignored   atomic.Uint64

	log logger.Logger
}

// NewMaid returns a maid holding up to capacity pending objects
func NewMaid(capacity int, log logger.Logger) *Maid {
	if log == nil {
		log = defaultLogger()
	}
	return &Maid{
		queue: rtqueue.New[maidEntry](capacity),
		log:   log.Module("maid"),
	}
}

// Push schedules obj for reclamation. When the queue is full the object is
// dropped, counted as leaked, and false is returned.
func (m *Maid) Push(obj Reclaimable) bool {
	if obj == nil {
		return true
	}
	if !m.queue.Push(maidEntry{obj: obj, gen: obj.Generation()}) {
		m.leaked.Add(1)
		return false
	}
	return true
}

// Cleanup reclaims every queued object and returns how many were
// reclaimed. Entries whose generation moved on were already reclaimed and
// are ignored.
func (m *Maid) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for {
		entry, ok := m.queue.Pop()
		if !ok {
			break
		}
		if entry.obj.Generation() != entry.gen {
			m.ignored.Add(1)
			continue
		}
		entry.obj.Reclaim()
		n++
	}
	if n > 0 {
		m.reclaimed.Add(uint64(n))
		m.log.Trace("reclaimed objects", logger.Int("count", n))
	}
	return n
}

// Run calls Cleanup every interval until ctx is done, then once more
func (m *Maid) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Cleanup()
			return nil
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

// Pending returns the number of queued objects
func (m *Maid) Pending() int { return m.queue.Len() }

// Leaked returns the number of objects dropped because the queue was full
func (m *Maid) Leaked() uint64 { return m.leaked.Load() }

// Reclaimed returns the number of objects reclaimed
func (m *Maid) Reclaimed() uint64 { return m.reclaimed.Load() }

// Ignored returns the number of duplicate retirements skipped
func (m *Maid) Ignored() uint64 { return m.ignored.Load() }
