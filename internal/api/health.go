package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tphakala/imaging-churn/internal/buildinfo"
	"github.com/tphakala/imaging-churn/internal/logger"
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string         `json:"status"`
	Model         ModelStatus    `json:"model"`
	Datastore     bool           `json:"datastore"`
	MQTT          bool           `json:"mqtt"`
	Notifications bool           `json:"notifications"`
	Build         buildinfo.Info `json:"build"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	System        SystemInfo     `json:"system"`
	Timestamp     time.Time      `json:"timestamp"`
}

// ModelStatus reports whether a scorer is loaded.
type ModelStatus struct {
	Loaded  bool   `json:"loaded"`
	Backend string `json:"backend,omitempty"`
}

// SystemInfo is a snapshot of host resources.
type SystemInfo struct {
	Hostname          string  `json:"hostname,omitempty"`
	OS                string  `json:"os"`
	Platform          string  `json:"platform,omitempty"`
	Arch              string  `json:"arch"`
	NumCPU            int     `json:"num_cpu"`
	Goroutines        int     `json:"goroutines"`
	MemoryTotal       uint64  `json:"memory_total,omitempty"`
	MemoryUsedPercent float64 `json:"memory_used_percent,omitempty"`
	HostUptimeSeconds uint64  `json:"host_uptime_seconds,omitempty"`
}

// Health reports model readiness and host information. The status is
// "degraded" while no model is loaded.
func (c *Controller) Health(ctx echo.Context) error {
	resp := HealthResponse{
		Status:        "ok",
		Model:         ModelStatus{Loaded: c.Scoring.Ready(), Backend: c.Scoring.Backend()},
		Datastore:     c.DS != nil,
		MQTT:          c.publisher != nil,
		Notifications: c.notifier != nil,
		Build:         c.build,
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		System:        c.systemInfo(ctx),
		Timestamp:     time.Now().UTC(),
	}
	if !resp.Model.Loaded {
		resp.Status = "degraded"
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (c *Controller) systemInfo(ctx echo.Context) SystemInfo {
	info := SystemInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		NumCPU:     runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
	}
	reqCtx := ctx.Request().Context()

	if h, err := host.InfoWithContext(reqCtx); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform
		info.HostUptimeSeconds = h.Uptime
	} else {
		c.log.Debug("host info unavailable", logger.Error(err))
	}
	if vm, err := mem.VirtualMemoryWithContext(reqCtx); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryUsedPercent = vm.UsedPercent
	} else {
		c.log.Debug("memory info unavailable", logger.Error(err))
	}
	return info
}
