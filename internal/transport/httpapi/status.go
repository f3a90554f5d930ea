package httpapi

import (
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/patchgraph/ingen/internal/engine"
	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/graph"
	"github.com/patchgraph/ingen/internal/journal"
	"github.com/patchgraph/ingen/internal/logger"
)

const systemCacheKey = "system"

// SystemInfo describes the host the engine runs on
type SystemInfo struct {
	Hostname      string  `json:"hostname,omitempty"`
	OS            string  `json:"os"`
	Platform      string  `json:"platform,omitempty"`
	HostUptime    uint64  `json:"host_uptime_seconds,omitempty"`
	MemoryTotal   uint64  `json:"memory_total"`
	MemoryUsed    uint64  `json:"memory_used"`
	MemoryPercent float64 `json:"memory_percent"`
	CPUPercent    float64 `json:"cpu_percent"`
	ProcessRSS    uint64  `json:"process_rss"`
	Goroutines    int     `json:"goroutines"`
	NumCPU        int     `json:"num_cpu"`
}

// StatusResponse is the body of GET /api/v1/status
type StatusResponse struct {
	Engine  engine.Stats `json:"engine"`
	System  SystemInfo   `json:"system"`
	Uptime  float64      `json:"uptime_seconds"`
	Journal *int64       `json:"journal_entries,omitempty"`
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{
		Engine: s.engine.Stats(),
		System: s.systemInfo(),
		Uptime: time.Since(s.startTime).Seconds(),
	}
	if s.journal != nil {
		if n, err := s.journal.Count(c.Request().Context()); err == nil {
			resp.Journal = &n
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// systemInfo collects host figures, cached briefly since some probes are
// slow. Probes that fail leave their fields zero.
func (s *Server) systemInfo() SystemInfo {
	if v, ok := s.cache.Get(systemCacheKey); ok {
		if info, ok := v.(SystemInfo); ok {
			info.Goroutines = runtime.NumGoroutine()
			return info
		}
	}

	info := SystemInfo{
		OS:         runtime.GOOS,
		Goroutines: runtime.NumGoroutine(),
		NumCPU:     runtime.NumCPU(),
	}
	if h, err := host.Info(); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform
		info.HostUptime = h.Uptime
	} else {
		s.log.Debug("host info unavailable", logger.Error(err))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryUsed = vm.Used
		info.MemoryPercent = vm.UsedPercent
	} else {
		s.log.Debug("memory info unavailable", logger.Error(err))
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		info.CPUPercent = pct[0]
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil { //nolint:gosec // pid fits in int32
		if mi, err := p.MemoryInfo(); err == nil {
			info.ProcessRSS = mi.RSS
		}
	}

	s.cache.SetDefault(systemCacheKey, info)
	return info
}

func (s *Server) handlePlugins(c echo.Context) error {
	catalog := s.engine.Catalog()
	if uri := c.QueryParam("uri"); uri != "" {
		desc, ok := catalog.Plugin(uri)
		if !ok {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "plugin not found: " + uri})
		}
		return c.JSON(http.StatusOK, desc)
	}
	return c.JSON(http.StatusOK, catalog.Plugins())
}

// handleObject describes the graph object at ?path=, the root by default
func (s *Server) handleObject(c echo.Context) error {
	path := graph.Root
	if raw := c.QueryParam("path"); raw != "" {
		p, err := graph.ParsePath(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid path " + strconv.Quote(raw)})
		}
		path = p
	}
	info, err := s.engine.Store().Describe(path)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, info)
}

// handleJournal lists recent journal entries. Query parameters: client,
// kind, failed, since (RFC 3339) and limit.
func (s *Server) handleJournal(c echo.Context) error {
	if s.journal == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "journal is disabled"})
	}

	q := journal.Query{
		Client: c.QueryParam("client"),
		Kind:   c.QueryParam("kind"),
	}
	if raw := c.QueryParam("failed"); raw != "" {
		failed, err := strconv.ParseBool(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid failed parameter"})
		}
		q.Failed = failed
	}
	if raw := c.QueryParam("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid since parameter"})
		}
		q.Since = since
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid limit parameter"})
		}
		q.Limit = limit
	}

	entries, err := s.journal.Recent(c.Request().Context(), q)
	if err != nil {
		s.log.Error("journal query failed", logger.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "journal query failed"})
	}
	return c.JSON(http.StatusOK, entries)
}
