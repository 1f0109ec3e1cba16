package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/huangang/claimwatch/internal/services"
	"github.com/huangang/claimwatch/pkg/logger"
)

// SSEHandler streams assignment status changes
type SSEHandler struct {
	hub       *services.SSEHub
	Heartbeat time.Duration
}

func NewSSEHandler(hub *services.SSEHub) *SSEHandler {
	return &SSEHandler{hub: hub, Heartbeat: 30 * time.Second}
}

// StreamAssignmentEvents handles SSE connections for assignment status updates,
// optionally narrowed by ?repository= and ?assignee=
// GET /api/events/assignments
func (h *SSEHandler) StreamAssignmentEvents(c *gin.Context) {
	filter := services.EventFilter{
		Repository: c.Query("repository"),
		Assignee:   c.Query("assignee"),
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientID := uuid.New().String()
	events := h.hub.Subscribe(clientID)
	defer h.hub.Unsubscribe(clientID)

	logger.Info().Str("client_id", clientID).Str("repository", filter.Repository).Str("assignee", filter.Assignee).
		Int("total", h.hub.ClientCount()).Msg("SSE client connected")

	heartbeat := time.NewTicker(h.Heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			if !filter.Matches(event) {
				return true
			}
			data, err := json.Marshal(event)
			if err != nil {
				logger.Error().Err(err).Msg("SSE marshal error")
				return true
			}
			fmt.Fprintf(w, "event: assignment\ndata: %s\n\n", data)
			c.Writer.Flush()
			return true
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			c.Writer.Flush()
			return true
		case <-c.Request.Context().Done():
			logger.Info().Str("client_id", clientID).Msg("SSE client disconnected")
			return false
		}
	})
}
