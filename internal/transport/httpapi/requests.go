package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/patchgraph/ingen/internal/engine"
	"github.com/patchgraph/ingen/internal/logger"
)

const clientIDHeader = "X-Client-ID"

// RequestResponse is the reply to a POST /api/v1/requests call
type RequestResponse struct {
	RequestID     int32                 `json:"request_id"`
	OK            bool                  `json:"ok"`
	Message       string                `json:"message,omitempty"`
	Notifications []engine.Notification `json:"notifications,omitempty"`
}

// requestClient receives the reply to a single HTTP request, plus any
// notification addressed to the requester alone
type requestClient struct {
	id    string
	reply chan RequestResponse

	mu    sync.Mutex
	notes []engine.Notification
}

func newRequestClient(id string) *requestClient {
	return &requestClient{id: id, reply: make(chan RequestResponse, 1)}
}

func (c *requestClient) ClientID() string { return c.id }

func (c *requestClient) Response(id int32, ok bool, msg string) {
	c.mu.Lock()
	notes := c.notes
	c.notes = nil
	c.mu.Unlock()

	select {
	case c.reply <- RequestResponse{RequestID: id, OK: ok, Message: msg, Notifications: notes}:
	default:
	}
}

func (c *requestClient) Notify(n engine.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, n)
}

// handleRequest submits one event and waits for its reply
func (s *Server) handleRequest(c echo.Context) error {
	var req engine.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	id := c.Request().Header.Get(clientIDHeader)
	if id == "" {
		id = "http-" + uuid.NewString()
	}
	client := newRequestClient(id)

	ev, err := req.ToEvent(s.engine.Registry(), engine.NewResponder(client, req.ID))
	if err != nil {
		return c.JSON(statusFor(err), errorResponse{Error: err.Error()})
	}

	ctx := logger.WithTraceID(c.Request().Context(), c.Response().Header().Get(echo.HeaderXRequestID))
	ctx, cancel := context.WithTimeout(ctx, s.settings.RequestTimeout)
	defer cancel()
	log := s.log.WithContext(ctx).With(
		logger.String("client_id", id),
		logger.String("kind", req.Kind))

	if err := s.engine.Submit(ctx, ev); err != nil {
		log.Debug("submit failed", logger.Error(err))
		return c.JSON(statusFor(err), errorResponse{Error: err.Error()})
	}

	select {
	case resp := <-client.reply:
		status := http.StatusOK
		if !resp.OK {
			status = http.StatusUnprocessableEntity
		}
		return c.JSON(status, resp)
	case <-ctx.Done():
		log.Warn("request timed out waiting for reply",
			logger.Duration("timeout", s.settings.RequestTimeout))
		return c.JSON(http.StatusGatewayTimeout, errorResponse{Error: "timed out waiting for reply"})
	}
}

// replyDeadline bounds a single stream submission
func (s *Server) replyDeadline() time.Duration { return s.settings.RequestTimeout }
