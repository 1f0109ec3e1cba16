package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/claimwatch/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports the state of every subsystem.
type HealthHandler struct {
	db      *gorm.DB
	queue   services.TaskQueue
	store   *services.AssignmentStore
	hub     *services.SSEHub
	monitor CycleRunner
}

func NewHealthHandler(db *gorm.DB, queue services.TaskQueue, store *services.AssignmentStore, hub *services.SSEHub, monitor CycleRunner) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, store: store, hub: hub, monitor: monitor}
}

// CheckHealth returns the health status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	var trackable int64
	if overall == "healthy" {
		trackable, _ = h.store.CountTrackable(c.Request.Context())
	}

	components := gin.H{
		"database":    dbStatus,
		"queue_mode":  queueMode,
		"sse_clients": h.hub.ClientCount(),
		"trackable":   trackable,
	}
	if h.monitor != nil {
		if report := h.monitor.LastReport(); report != nil {
			components["last_cycle"] = gin.H{
				"started_at":  report.StartedAt,
				"finished_at": report.FinishedAt,
				"skipped":     report.Skipped,
				"total":       report.Total,
				"counts":      report.Counts,
				"error":       report.Error,
			}
		}
	}

	status := 200
	if overall != "healthy" {
		status = 503
	}
	c.JSON(status, gin.H{
		"status":     overall,
		"service":    "claimwatch",
		"components": components,
	})
}
