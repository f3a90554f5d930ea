package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/patchgraph/ingen/internal/engine"
	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/logger"
	"github.com/patchgraph/ingen/internal/observability/metrics"
)

const (
	messageResponse     = "response"
	messageNotification = "notification"
)

// StreamMessage is one frame written to a websocket client
type StreamMessage struct {
	Type         string               `json:"type"`
	RequestID    int32                `json:"request_id,omitempty"`
	OK           *bool                `json:"ok,omitempty"`
	Message      string               `json:"message,omitempty"`
	Notification *engine.Notification `json:"notification,omitempty"`
}

// streamClient is a websocket client registered with the broadcaster. Its
// methods run on the post-processor and never block: a full outbox drops
// the frame.
type streamClient struct {
	id      string
	out     chan StreamMessage
	dropped atomic.Uint64
}

func newStreamClient(id string, buffer int) *streamClient {
	return &streamClient{id: id, out: make(chan StreamMessage, buffer)}
}

func (c *streamClient) ClientID() string { return c.id }

func (c *streamClient) Response(id int32, ok bool, msg string) {
	c.push(StreamMessage{Type: messageResponse, RequestID: id, OK: &ok, Message: msg})
}

func (c *streamClient) Notify(n engine.Notification) {
	c.push(StreamMessage{Type: messageNotification, Notification: &n})
}

func (c *streamClient) push(m StreamMessage) {
	select {
	case c.out <- m:
	default:
		c.dropped.Add(1)
	}
}

// handleWebSocket accepts requests as JSON frames and writes replies and
// notifications back on the same connection
func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.wsError("upgrade")
		s.log.Debug("websocket upgrade failed", logger.Error(err))
		return nil
	}

	s.streams.Add(1)
	defer s.streams.Done()

	client := newStreamClient("ws-"+uuid.NewString(), streamBuffer)
	broadcaster := s.engine.Broadcaster()
	broadcaster.Register(client)
	if s.metrics != nil {
		s.metrics.HTTP.WSConnectionStarted()
	}
	s.log.Info("websocket client connected",
		logger.String("client_id", client.id),
		logger.String("ip", c.RealIP()))

	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, client, done)
	}()

	reason := s.readLoop(c.Request().Context(), conn, client)

	broadcaster.Unregister(client)
	close(done)
	<-writerDone
	_ = conn.Close()

	if s.metrics != nil {
		s.metrics.HTTP.WSConnectionClosed(reason)
	}
	s.log.Info("websocket client disconnected",
		logger.String("client_id", client.id),
		logger.String("reason", reason),
		logger.Uint64("dropped", client.dropped.Load()))
	return nil
}

// readLoop submits requests until the connection closes and returns the
// close reason
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, client *streamClient) string {
	limiter := s.newLimiter()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-s.quit:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-ctx.Done():
		case <-stop:
		}
	}()

	for {
		var req engine.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return metrics.WSCloseReasonClosed
			}
			if isDecodeError(err) {
				client.Response(0, false, "invalid request frame")
				s.wsError("decode")
				continue
			}
			select {
			case <-s.quit:
				return metrics.WSCloseReasonClosed
			default:
			}
			s.wsError("read")
			return metrics.WSCloseReasonError
		}

		if limiter != nil && !limiter.Allow() {
			if s.metrics != nil {
				s.metrics.HTTP.RecordRateLimited(apiPrefix + "/ws")
			}
			client.Response(req.ID, false, "rate limit exceeded")
			continue
		}
		s.submitStream(ctx, client, req)
	}
}

func isDecodeError(err error) bool {
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.As(err, &syntax) || errors.As(err, &typ)
}

func (s *Server) submitStream(ctx context.Context, client *streamClient, req engine.Request) {
	ev, err := req.ToEvent(s.engine.Registry(), engine.NewResponder(client, req.ID))
	if err != nil {
		client.Response(req.ID, false, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.replyDeadline())
	defer cancel()
	if err := s.engine.Submit(ctx, ev); err != nil {
		client.Response(req.ID, false, err.Error())
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, client *streamClient, done <-chan struct{}) {
	ping := time.NewTicker(heartbeatInterval)
	defer ping.Stop()

	for {
		select {
		case m := <-client.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(m); err != nil {
				s.wsError("write")
				s.log.Debug("websocket write failed",
					logger.String("client_id", client.id),
					logger.Error(err))
				_ = conn.Close()
				return
			}
			if s.metrics != nil {
				s.metrics.HTTP.RecordWSMessageSent(m.Type)
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.wsError("ping")
				_ = conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) wsError(kind string) {
	if s.metrics != nil {
		s.metrics.HTTP.RecordWSError(kind)
	}
}

// handleEventStream streams every broadcast notification as server-sent
// events
func (s *Server) handleEventStream(c echo.Context) error {
	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	s.streams.Add(1)
	defer s.streams.Done()

	notes, cancel := s.engine.Broadcaster().Subscribe(streamBuffer)
	defer cancel()

	id := "sse-" + uuid.NewString()
	if err := s.sendEvent(c, "connected", map[string]string{"client_id": id}); err != nil {
		return nil
	}
	s.log.Debug("event stream opened", logger.String("client_id", id))
	defer s.log.Debug("event stream closed", logger.String("client_id", id))

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case n, ok := <-notes:
			if !ok {
				return nil
			}
			if err := s.sendEvent(c, n.Type, n); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := s.sendEvent(c, "heartbeat", map[string]int64{"timestamp": time.Now().Unix()}); err != nil {
				return nil
			}
		case <-c.Request().Context().Done():
			return nil
		case <-s.quit:
			return nil
		}
	}
}

// sendEvent writes one server-sent event and flushes it
func (s *Server) sendEvent(c echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, payload); err != nil {
		s.wsError("sse_write")
		return fmt.Errorf("failed to write event: %w", err)
	}
	c.Response().Flush()
	if s.metrics != nil {
		s.metrics.HTTP.RecordWSMessageSent(event)
	}
	return nil
}
