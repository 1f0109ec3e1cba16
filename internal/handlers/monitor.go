package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/claimwatch/internal/middleware"
	"github.com/huangang/claimwatch/internal/services"
	"github.com/huangang/claimwatch/pkg/logger"
	"github.com/huangang/claimwatch/pkg/response"
)

// CycleRunner is the part of the monitor the API drives.
type CycleRunner interface {
	RunOnce(ctx context.Context) services.RunReport
	LastReport() *services.RunReport
}

type MonitorHandler struct {
	monitor CycleRunner
	timeout time.Duration
}

func NewMonitorHandler(monitor CycleRunner, timeout time.Duration) *MonitorHandler {
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &MonitorHandler{monitor: monitor, timeout: timeout}
}

// Run starts a cycle outside the schedule. With ?wait=true the report is
// returned once the cycle finishes.
// POST /api/monitor/run
func (h *MonitorHandler) Run(c *gin.Context) {
	by := middleware.GetLogin(c)
	if c.Query("wait") == "true" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
		defer cancel()
		report := h.monitor.RunOnce(ctx)
		response.Success(c, report)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		report := h.monitor.RunOnce(ctx)
		logger.Info().Str("by", by).Int("total", report.Total).Bool("skipped", report.Skipped).
			Msg("[Monitor] Manual cycle finished")
	}()
	response.Accepted(c, gin.H{"started": true})
}

// Report returns the last cycle report
// GET /api/monitor/report
func (h *MonitorHandler) Report(c *gin.Context) {
	report := h.monitor.LastReport()
	if report == nil {
		response.NotFound(c, "no cycle has run yet")
		return
	}
	response.Success(c, report)
}
