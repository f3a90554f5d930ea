package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchgraph/ingen/internal/conf"
	"github.com/patchgraph/ingen/internal/engine"
	"github.com/patchgraph/ingen/internal/journal"
	"github.com/patchgraph/ingen/internal/logger"
	"github.com/patchgraph/ingen/internal/observability"
	"github.com/patchgraph/ingen/internal/plugins"
)

const testTimeout = 5 * time.Second

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func newEngine(t *testing.T, activate bool) *engine.Engine {
	t.Helper()
	e, err := engine.New(engine.Options{
		Settings: conf.EngineSettings{
			SampleRate:          48000,
			BlockSize:           64,
			EventBufferSize:     1024,
			QueueSize:           64,
			MaidCapacity:        64,
			MaidInterval:        5 * time.Millisecond,
			PostProcessInterval: time.Millisecond,
			Polyphony:           1,
			MIDIBufferSize:      1024,
		},
		Channels: 2,
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	if activate {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		require.NoError(t, e.Activate(ctx))
		t.Cleanup(func() { _ = e.Deactivate() })
	}
	return e
}

func newServer(t *testing.T, e *engine.Engine, mutate func(*conf.HTTPSettings), opts ...Option) *Server {
	t.Helper()
	settings := conf.HTTPSettings{Enabled: true, RequestTimeout: testTimeout}
	if mutate != nil {
		mutate(&settings)
	}
	s, err := New(e, settings, append([]Option{WithLogger(testLogger())}, opts...)...)
	require.NoError(t, err)
	return s
}

func post(t *testing.T, s *Server, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, http.NoBody))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewRequiresEngine(t *testing.T) {
	t.Parallel()

	_, err := New(nil, conf.HTTPSettings{})
	require.Error(t, err)

	_, err = New(newEngine(t, false), conf.HTTPSettings{RateLimit: -1})
	require.Error(t, err)
}

func TestPostRequestReplies(t *testing.T) {
	t.Parallel()

	s := newServer(t, newEngine(t, true), nil)
	rec := post(t, s, `{"request_id": 3, "kind": "ping"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[RequestResponse](t, rec)
	assert.Equal(t, int32(3), resp.RequestID)
	assert.True(t, resp.OK)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPostRequestFailureIsUnprocessable(t *testing.T) {
	t.Parallel()

	s := newServer(t, newEngine(t, true), nil)
	rec := post(t, s, `{"request_id": 4, "kind": "set_port_value", "path": "/missing/in", "value": 1}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	resp := decode[RequestResponse](t, rec)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Message, "not found")
}

func TestPostRequestValidation(t *testing.T) {
	t.Parallel()

	s := newServer(t, newEngine(t, true), nil)
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"kind":`},
		{"unknown kind", `{"kind": "explode"}`},
		{"missing path", `{"kind": "destroy"}`},
		{"missing value", `{"kind": "set_port_value", "path": "/out_1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, s, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestPostRequestInactiveEngine(t *testing.T) {
	t.Parallel()

	s := newServer(t, newEngine(t, false), nil)
	rec := post(t, s, `{"kind": "ping"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestObjectReturnsRequesterNotifications(t *testing.T) {
	t.Parallel()

	s := newServer(t, newEngine(t, true), nil)
	rec := post(t, s, `{"request_id": 9, "kind": "request_object", "path": "/"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[RequestResponse](t, rec)
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, engine.NotifyObject, resp.Notifications[0].Type)
	assert.Equal(t, "/", resp.Notifications[0].Path)
}

func TestRequestsAreRateLimitedPerClient(t *testing.T) {
	t.Parallel()

	m, err := observability.NewMetrics()
	require.NoError(t, err)
	s := newServer(t, newEngine(t, true), func(h *conf.HTTPSettings) {
		h.RateLimit = 1
		h.RateBurst = 1
	}, WithMetrics(m))

	assert.Equal(t, http.StatusOK, post(t, s, `{"kind": "ping"}`, clientIDHeader, "a").Code)
	assert.Equal(t, http.StatusTooManyRequests, post(t, s, `{"kind": "ping"}`, clientIDHeader, "a").Code)
	assert.Equal(t, http.StatusOK, post(t, s, `{"kind": "ping"}`, clientIDHeader, "b").Code)

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ingen_http_rate_limited_total")
	assert.Contains(t, rec.Body.String(), "ingen_http_requests_total")
}

func TestStatus(t *testing.T) {
	t.Parallel()

	s := newServer(t, newEngine(t, true), nil)
	rec := get(t, s, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	status := decode[StatusResponse](t, rec)
	assert.Equal(t, "active", status.Engine.State)
	assert.Equal(t, uint32(48000), status.Engine.SampleRate)
	assert.Positive(t, status.System.NumCPU)
	assert.Positive(t, status.System.Goroutines)
	assert.Nil(t, status.Journal)

	rec = get(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPlugins(t *testing.T) {
	t.Parallel()

	s := newServer(t, newEngine(t, false), nil)

	list := decode[[]plugins.Descriptor](t, get(t, s, "/api/v1/plugins"))
	uris := make([]string, 0, len(list))
	for _, d := range list {
		uris = append(uris, d.URI)
	}
	assert.Contains(t, uris, plugins.URISine)

	one := decode[plugins.Descriptor](t, get(t, s, "/api/v1/plugins?uri="+plugins.URIGain))
	assert.Equal(t, plugins.URIGain, one.URI)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/v1/plugins?uri=urn:none").Code)
}

func TestObjects(t *testing.T) {
	t.Parallel()

	s := newServer(t, newEngine(t, true), nil)

	rec := get(t, s, "/api/v1/objects")
	require.Equal(t, http.StatusOK, rec.Code)
	root := decode[map[string]any](t, rec)
	assert.Equal(t, "/", root["path"])

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/v1/objects?path=/nothing").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/v1/objects?path=bad%20path").Code)
}

type fakeJournal struct {
	entries []journal.Entry
	last    journal.Query
}

func (f *fakeJournal) Recent(_ context.Context, q journal.Query) ([]journal.Entry, error) {
	f.last = q
	return f.entries, nil
}

func (f *fakeJournal) Count(context.Context) (int64, error) {
	return int64(len(f.entries)), nil
}

func TestJournal(t *testing.T) {
	t.Parallel()

	e := newEngine(t, false)
	assert.Equal(t, http.StatusNotFound, get(t, newServer(t, e, nil), "/api/v1/journal").Code)

	j := &fakeJournal{entries: []journal.Entry{{UUID: "x", Kind: "ping", OK: true}}}
	s := newServer(t, e, nil, WithJournal(j))

	rec := get(t, s, "/api/v1/journal?client=c1&kind=ping&failed=true&limit=5&since=2026-01-02T03:04:05Z")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entries := decode[[]journal.Entry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].UUID)

	assert.Equal(t, "c1", j.last.Client)
	assert.Equal(t, "ping", j.last.Kind)
	assert.True(t, j.last.Failed)
	assert.Equal(t, 5, j.last.Limit)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), j.last.Since.UTC())

	for _, q := range []string{"failed=maybe", "since=yesterday", "limit=-1"} {
		assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/v1/journal?"+q).Code, q)
	}

	status := decode[StatusResponse](t, get(t, s, "/api/v1/status"))
	require.NotNil(t, status.Journal)
	assert.Equal(t, int64(1), *status.Journal)
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntilResponse reads frames until the reply to id and returns the
// notifications seen before it
func readUntilResponse(t *testing.T, conn *websocket.Conn, id int32) (StreamMessage, []engine.Notification) {
	t.Helper()
	var notes []engine.Notification
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	for {
		var m StreamMessage
		require.NoError(t, conn.ReadJSON(&m))
		switch m.Type {
		case messageNotification:
			require.NotNil(t, m.Notification)
			notes = append(notes, *m.Notification)
		case messageResponse:
			if m.RequestID == id {
				return m, notes
			}
		}
	}
}

func TestWebSocketRequestsAndNotifications(t *testing.T) {
	t.Parallel()

	s := newServer(t, newEngine(t, true), nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(engine.Request{ID: 5, Kind: "set_metadata", Path: "/", Key: "name", Text: "main"}))
	reply, notes := readUntilResponse(t, conn, 5)
	require.NotNil(t, reply.OK)
	assert.True(t, *reply.OK)
	require.NotEmpty(t, notes)
	assert.Equal(t, engine.NotifyMetadata, notes[0].Type)
	assert.Equal(t, "main", notes[0].Text)

	require.NoError(t, conn.WriteJSON(engine.Request{ID: 6, Kind: "nonsense"}))
	reply, _ = readUntilResponse(t, conn, 6)
	require.NotNil(t, reply.OK)
	assert.False(t, *reply.OK)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":`)))
	reply, _ = readUntilResponse(t, conn, 0)
	assert.Equal(t, "invalid request frame", reply.Message)
}

func TestWebSocketRateLimit(t *testing.T) {
	t.Parallel()

	s := newServer(t, newEngine(t, true), func(h *conf.HTTPSettings) {
		h.RateLimit = 0.001
		h.RateBurst = 1
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(engine.Request{ID: 1, Kind: "ping"}))
	reply, _ := readUntilResponse(t, conn, 1)
	assert.True(t, *reply.OK)

	require.NoError(t, conn.WriteJSON(engine.Request{ID: 2, Kind: "ping"}))
	reply, _ = readUntilResponse(t, conn, 2)
	assert.False(t, *reply.OK)
	assert.Equal(t, "rate limit exceeded", reply.Message)
}

func TestEventStream(t *testing.T) {
	t.Parallel()

	s := newServer(t, newEngine(t, true), nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", http.NoBody)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: connected", lines.Text())

	rec := post(t, s, `{"request_id": 1, "kind": "set_metadata", "path": "/", "key": "k", "text": "v"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	for lines.Scan() {
		if lines.Text() != "event: "+engine.NotifyMetadata {
			continue
		}
		require.True(t, lines.Scan())
		var n engine.Notification
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines.Text(), "data: ")), &n))
		assert.Equal(t, "k", n.Key)
		assert.Equal(t, "v", n.Text)
		return
	}
	t.Fatal("metadata event not received")
}

func TestServeShutsDownWithContext(t *testing.T) {
	t.Parallel()

	s := newServer(t, newEngine(t, true), func(h *conf.HTTPSettings) { h.Listen = "127.0.0.1:0" })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("server did not stop")
	}
}
