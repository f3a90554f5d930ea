package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type panickyClient struct{}

func (panickyClient) Response(int32, bool, string) {}
func (panickyClient) Notify(Notification)          { panic("boom") }

func TestBroadcasterDeliversToClientsAndSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(testLogger())
	c := newTestClient("a")
	b.Register(c)
	b.Register(c)
	ch, cancel := b.Subscribe(4)
	defer cancel()

	b.Send(Notification{Type: NotifyCreated, Path: "/x"})
	require.Len(t, c.notifications(), 1)
	n := <-ch
	assert.Equal(t, "/x", n.Path)

	stats := b.Stats()
	assert.Equal(t, 1, stats.Clients)
	assert.Equal(t, 1, stats.Subscribers)
	assert.Equal(t, uint64(2), stats.Sent)

	b.Unregister(c)
	b.Send(Notification{Type: NotifyDeleted, Path: "/x"})
	assert.Len(t, c.notifications(), 1)
}

func TestBroadcasterDropsForFullSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(testLogger())
	ch, cancel := b.Subscribe(1)
	b.Send(Notification{Type: NotifyCreated})
	b.Send(Notification{Type: NotifyDeleted})
	assert.Equal(t, uint64(1), b.Stats().Dropped)
	assert.Equal(t, NotifyCreated, (<-ch).Type)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, b.Stats().Subscribers)
}

func TestBroadcasterRecoversClientPanic(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(testLogger())
	good := newTestClient("good")
	b.Register(panickyClient{})
	b.Register(good)

	assert.NotPanics(t, func() { b.Send(Notification{Type: NotifyCleared}) })
	assert.Len(t, good.notifications(), 1)
	assert.Equal(t, uint64(1), b.Stats().Panics)
}

func TestBroadcasterPublishesRecords(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(testLogger())
	recs, cancel := b.SubscribeRecords(2)
	defer cancel()

	b.PublishRecord(Record{Kind: "ping", OK: true})
	r := <-recs
	assert.Equal(t, "ping", r.Kind)
	assert.True(t, r.OK)
}
