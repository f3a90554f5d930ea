// Package httpapi exposes the engine over HTTP: JSON requests, a websocket
// and a server-sent event stream of notifications, status, and journal
// queries.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/patchgraph/ingen/internal/buildinfo"
	"github.com/patchgraph/ingen/internal/conf"
	"github.com/patchgraph/ingen/internal/engine"
	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/journal"
	"github.com/patchgraph/ingen/internal/logger"
	"github.com/patchgraph/ingen/internal/observability"
)

const (
	component = "http"

	apiPrefix          = "/api/v1"
	defaultListen      = "127.0.0.1:16180"
	defaultTimeout     = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
	rateLimiterExpires = 3 * time.Minute
	streamBuffer       = 256
	heartbeatInterval  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	systemCacheTTL     = 5 * time.Second
)

// JournalReader is implemented by journal.Store
type JournalReader interface {
	Recent(ctx context.Context, q journal.Query) ([]journal.Entry, error)
	Count(ctx context.Context) (int64, error)
}

// Server is the HTTP transport of one engine
type Server struct {
	echo     *echo.Echo
	engine   *engine.Engine
	settings conf.HTTPSettings
	journal  JournalReader
	metrics  *observability.Metrics
	log      logger.Logger
	upgrader websocket.Upgrader
	cache    *cache.Cache

	startTime time.Time
	wg        sync.WaitGroup
	streams   sync.WaitGroup
	quit      chan struct{}
	quitOnce  sync.Once
}

// Option configures a Server
type Option func(*Server)

// WithJournal enables the journal endpoint
func WithJournal(j JournalReader) Option {
	return func(s *Server) { s.journal = j }
}

// WithMetrics records request metrics and serves /metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New returns a server for e. Routes are registered immediately; call Run
// to listen.
func New(e *engine.Engine, settings conf.HTTPSettings, opts ...Option) (*Server, error) {
	if e == nil {
		return nil, errors.Newf("engine is required").
			Component(component).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.Listen == "" {
		settings.Listen = defaultListen
	}
	if settings.RequestTimeout <= 0 {
		settings.RequestTimeout = defaultTimeout
	}
	if settings.RateLimit < 0 || settings.RateBurst < 0 {
		return nil, errors.Newf("rate limit and burst must not be negative").
			Component(component).
			Category(errors.CategoryValidation).
			Context("rate_limit", settings.RateLimit).
			Context("rate_burst", settings.RateBurst).
			Build()
	}

	s := &Server{
		echo:     echo.New(),
		engine:   e,
		settings: settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		cache:     cache.New(systemCacheTTL, 0),
		startTime: time.Now(),
		quit:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module(component)
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler { return s.echo }

// Addr returns the configured listen address
func (s *Server) Addr() string { return s.settings.Listen }

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestID())
	s.echo.Use(s.requestLogger())
}

// requestLogger logs each request and records its metrics
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("request_id", v.RequestID),
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}
			s.log.Debug("request", fields...)

			if s.metrics != nil {
				route := c.Path()
				s.metrics.HTTP.RecordHTTPRequest(v.Method, route, v.Status, v.Latency.Seconds())
				if v.Status >= http.StatusBadRequest {
					s.metrics.HTTP.RecordHTTPRequestError(v.Method, route, http.StatusText(v.Status))
				}
			}
			return nil
		},
	})
}

// rateLimiter limits requests per client. Clients are identified by the
// X-Client-ID header, falling back to the remote address.
func (s *Server) rateLimiter() echo.MiddlewareFunc {
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(s.settings.RateLimit),
			Burst:     s.burst(),
			ExpiresIn: rateLimiterExpires,
		}),
		IdentifierExtractor: clientIdentifier,
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, errorResponse{Error: "unable to identify client"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			if s.metrics != nil {
				s.metrics.HTTP.RecordRateLimited(c.Path())
			}
			s.log.Debug("rate limited", logger.String("client_id", identifier))
			return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		},
	})
}

// newLimiter returns a per-connection limiter for stream requests, nil when
// limiting is disabled
func (s *Server) newLimiter() *rate.Limiter {
	if s.settings.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(s.settings.RateLimit), s.burst())
}

func (s *Server) burst() int {
	return max(s.settings.RateBurst, 1)
}

func clientIdentifier(c echo.Context) (string, error) {
	if id := c.Request().Header.Get(clientIDHeader); id != "" {
		return id, nil
	}
	return c.RealIP(), nil
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.health)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	api := s.echo.Group(apiPrefix)
	if s.settings.RateLimit > 0 {
		api.POST("/requests", s.handleRequest, s.rateLimiter())
	} else {
		api.POST("/requests", s.handleRequest)
	}
	api.GET("/ws", s.handleWebSocket)
	api.GET("/events", s.handleEventStream)
	api.GET("/status", s.handleStatus)
	api.GET("/plugins", s.handlePlugins)
	api.GET("/objects", s.handleObject)
	api.GET("/journal", s.handleJournal)
}

func (s *Server) health(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"engine":         s.engine.State().String(),
		"version":        buildinfo.Current().GetVersion(),
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Run listens until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.settings.Listen)
	if err != nil {
		return errors.New(err).
			Component(component).
			Category(errors.CategoryNetwork).
			Context("listen", s.settings.Listen).
			Build()
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln
	errCh := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("HTTP server starting", logger.String("address", ln.Addr().String()))
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return errors.New(err).
			Component(component).
			Category(errors.CategoryNetwork).
			Context("listen", ln.Addr().String()).
			Build()
	}
	return s.Shutdown()
}

// Shutdown closes open streams and stops the server
func (s *Server) Shutdown() error {
	s.quitOnce.Do(func() { close(s.quit) })

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.echo.Shutdown(ctx)
	s.streams.Wait()
	s.wg.Wait()
	if err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return errors.New(err).
			Component(component).
			Category(errors.CategoryNetwork).
			Build()
	}
	s.log.Info("HTTP server stopped")
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps a submission error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInactive):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.IsCategory(err, errors.CategoryValidation), errors.Is(err, engine.ErrUnknownKind):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
