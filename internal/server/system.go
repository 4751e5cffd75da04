package server

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/fabrica-io/fabrica/internal/events"
)

func (s *Server) registerSystemRoutes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/api/admin/system/status", s.systemStatus)
	s.engine.GET("/api/events", s.queryEvents)
	s.engine.GET("/api/events/recent", s.recentEvents)
	s.engine.GET("/api/events/stream", s.streamEvents)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

type moduleStatus struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Core bool   `json:"core"`
}

type pluginStatus struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	State   string `json:"state"`
	Error   string `json:"error,omitempty"`
}

// systemStatus reports host metrics, module inventory, and plugin states
// for the admin dashboard.
func (s *Server) systemStatus(c *gin.Context) {
	ctx := c.Request.Context()

	status := gin.H{
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
		"cache_size": s.data.Engine().CacheSize(),
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		status["memory"] = gin.H{
			"total":        vm.Total,
			"used":         vm.Used,
			"used_percent": vm.UsedPercent,
		}
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		status["host"] = gin.H{
			"hostname": info.Hostname,
			"os":       info.OS,
			"platform": info.Platform,
			"uptime":   info.Uptime,
		}
	}

	mods := make([]moduleStatus, 0)
	for _, m := range s.manager.List() {
		mods = append(mods, moduleStatus{ID: m.ID(), Name: m.Name(), Core: m.Core()})
	}
	status["modules"] = mods

	plugs := make([]pluginStatus, 0)
	if mgr := s.plugins.Manager(); mgr != nil {
		for _, entry := range mgr.List() {
			plugs = append(plugs, pluginStatus{
				ID:      entry.Metadata.Descriptor.ID,
				Version: entry.Metadata.Descriptor.Version,
				State:   string(entry.State),
				Error:   entry.Error,
			})
		}
	}
	status["plugins"] = plugs

	c.JSON(http.StatusOK, status)
}

// queryEvents reads the persisted event log with optional type and source
// filters.
func (s *Server) queryEvents(c *gin.Context) {
	filter := eventFilterFromQuery(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	list, total, err := s.bus.Query(filter, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": list,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) recentEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	c.JSON(http.StatusOK, gin.H{"events": s.bus.Recent(limit)})
}

func eventFilterFromQuery(c *gin.Context) events.Filter {
	var filter events.Filter
	if raw := c.Query("type"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			filter.Types = append(filter.Types, events.EventType(strings.TrimSpace(t)))
		}
	}
	if raw := c.Query("source"); raw != "" {
		for _, src := range strings.Split(raw, ",") {
			filter.Sources = append(filter.Sources, strings.TrimSpace(src))
		}
	}
	return filter
}
