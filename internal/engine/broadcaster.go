package engine

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/patchgraph/ingen/internal/logger"
)

// Broadcaster fans notifications out to registered clients and to
// channel subscribers. Publishing never blocks: a subscriber whose channel
// is full misses the notification and the drop is counted.
type Broadcaster struct {
	mu          sync.RWMutex
	clients     []ClientInterface
	subscribers []chan Notification
	records     []chan Record

	sent    atomic.Uint64
	dropped atomic.Uint64
	panics  atomic.Uint64

	log logger.Logger
}

// BroadcasterStats contains runtime statistics for monitoring
type BroadcasterStats struct {
	Clients     int    `json:"clients"`
	Subscribers int    `json:"subscribers"`
	Sent        uint64 `json:"sent"`
	Dropped     uint64 `json:"dropped"`
	Panics      uint64 `json:"panics"`
}

// NewBroadcaster returns an empty broadcaster
func NewBroadcaster(log logger.Logger) *Broadcaster {
	if log == nil {
		log = defaultLogger()
	}
	return &Broadcaster{log: log.Module("broadcast")}
}

// Register adds a client. Registering a client twice has no effect.
func (b *Broadcaster) Register(c ClientInterface) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slices.Contains(b.clients, c) {
		return
	}
	b.clients = append(b.clients, c)
	b.log.Debug("registered client", logger.String("client_id", clientName(c)))
}

// Unregister removes a client
func (b *Broadcaster) Unregister(c ClientInterface) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients = slices.DeleteFunc(b.clients, func(x ClientInterface) bool { return x == c })
}

// Subscribe returns a channel receiving every notification and a function
// that closes it
func (b *Broadcaster) Subscribe(buffer int) (<-chan Notification, func()) {
	ch := make(chan Notification, max(buffer, 1))
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			b.subscribers = slices.DeleteFunc(b.subscribers, func(x chan Notification) bool { return x == ch })
			b.mu.Unlock()
			close(ch)
		})
	}
}

// SubscribeRecords returns a channel receiving the record of every
// finalized event and a function that closes it
func (b *Broadcaster) SubscribeRecords(buffer int) (<-chan Record, func()) {
	ch := make(chan Record, max(buffer, 1))
	b.mu.Lock()
	b.records = append(b.records, ch)
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			b.records = slices.DeleteFunc(b.records, func(x chan Record) bool { return x == ch })
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Send delivers n to every client and subscriber
func (b *Broadcaster) Send(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, c := range b.clients {
		b.notify(c, n)
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- n:
			b.sent.Add(1)
		default:
			b.dropped.Add(1)
		}
	}
}

// notify calls a client in a recovery wrapper so one faulty client cannot
// stop the post-processor
func (b *Broadcaster) notify(c ClientInterface, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.log.Error("client panicked",
				logger.String("client_id", clientName(c)),
				logger.String("notification", n.Type),
				logger.String("panic", fmt.Sprint(r)))
		}
	}()
	c.Notify(n)
	b.sent.Add(1)
}

// PublishRecord delivers r to record subscribers
func (b *Broadcaster) PublishRecord(r Record) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.records {
		select {
		case ch <- r:
		default:
			b.dropped.Add(1)
		}
	}
}

// Stats returns current broadcaster statistics
func (b *Broadcaster) Stats() BroadcasterStats {
	b.mu.RLock()
	clients, subs := len(b.clients), len(b.subscribers)+len(b.records)
	b.mu.RUnlock()
	return BroadcasterStats{
		Clients:     clients,
		Subscribers: subs,
		Sent:        b.sent.Load(),
		Dropped:     b.dropped.Load(),
		Panics:      b.panics.Load(),
	}
}
