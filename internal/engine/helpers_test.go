package engine

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/patchgraph/ingen/internal/conf"
	"github.com/patchgraph/ingen/internal/driver"
	"github.com/patchgraph/ingen/internal/graph"
	"github.com/patchgraph/ingen/internal/logger"
)

const (
	testBlock   = 64
	testTimeout = 5 * time.Second
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func testSettings() conf.EngineSettings {
	return conf.EngineSettings{
		SampleRate:          48000,
		BlockSize:           testBlock,
		EventBufferSize:     1024,
		QueueSize:           64,
		MaidCapacity:        64,
		MaidInterval:        5 * time.Millisecond,
		PostProcessInterval: time.Millisecond,
		Polyphony:           1,
		MIDIBufferSize:      1024,
	}
}

// newTestEngine returns an inactive engine on a dummy driver
func newTestEngine(t *testing.T, mutate ...func(*Options)) *Engine {
	t.Helper()
	opts := Options{Settings: testSettings(), Channels: 2, Logger: testLogger()}
	for _, m := range mutate {
		m(&opts)
	}
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

// activeEngine returns an activated engine deactivated at cleanup
func activeEngine(t *testing.T, mutate ...func(*Options)) *Engine {
	t.Helper()
	e := newTestEngine(t, mutate...)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, e.Activate(ctx))
	t.Cleanup(func() { _ = e.Deactivate() })
	return e
}

type reply struct {
	id  int32
	ok  bool
	msg string
}

// testClient collects replies and notifications
type testClient struct {
	id      string
	replies chan reply

	mu    sync.Mutex
	notes []Notification
}

func newTestClient(id string) *testClient {
	return &testClient{id: id, replies: make(chan reply, 64)}
}

func (c *testClient) ClientID() string { return c.id }

func (c *testClient) Response(id int32, ok bool, msg string) {
	c.replies <- reply{id: id, ok: ok, msg: msg}
}

func (c *testClient) Notify(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, n)
}

func (c *testClient) notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.notes...)
}

func (c *testClient) wait(t *testing.T) reply {
	t.Helper()
	select {
	case r := <-c.replies:
		return r
	case <-time.After(testTimeout):
		require.FailNow(t, "no reply")
		return reply{}
	}
}

// request submits one event and waits for its reply
func request(t *testing.T, e *Engine, kind Kind, path string, payload any) reply {
	t.Helper()
	c := newTestClient("test")
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, e.Submit(ctx, NewEvent(kind, graph.Path(path), payload, NewResponder(c, 1))))
	return c.wait(t)
}

func mustOK(t *testing.T, r reply) {
	t.Helper()
	require.True(t, r.ok, r.msg)
}

// dummy returns the engine's dummy driver
func dummy(t *testing.T, e *Engine) *driver.Dummy {
	t.Helper()
	d, ok := e.Driver().(*driver.Dummy)
	require.True(t, ok)
	return d
}

// portValue reads a port value through the store
func portValue(t *testing.T, e *Engine, path string) float32 {
	t.Helper()
	p, err := e.Store().FindPort(graph.Path(path))
	require.NoError(t, err)
	return p.Value()
}
