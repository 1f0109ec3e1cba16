package services

import (
	"strings"
	"sync"
	"time"

	"github.com/huangang/claimwatch/internal/models"
)

// AssignmentEvent is a real-time status update for one assignment
type AssignmentEvent struct {
	AssignmentID   uint                    `json:"assignment_id"`
	Repository     string                  `json:"repository"`
	IssueNumber    int                     `json:"issue_number"`
	Assignee       string                  `json:"assignee"`
	PreviousStatus models.AssignmentStatus `json:"previous_status,omitempty"`
	Status         models.AssignmentStatus `json:"status"`
	Reason         string                  `json:"reason,omitempty"`
	At             time.Time               `json:"at"`
}

func NewAssignmentEvent(a *models.Assignment, previous models.AssignmentStatus, reason string, at time.Time) AssignmentEvent {
	return AssignmentEvent{
		AssignmentID:   a.ID,
		Repository:     a.Repository,
		IssueNumber:    a.IssueNumber,
		Assignee:       a.Assignee,
		PreviousStatus: previous,
		Status:         a.Status,
		Reason:         reason,
		At:             at,
	}
}

// EventFilter narrows a subscription. Empty fields match everything.
type EventFilter struct {
	Repository string
	Assignee   string
}

func (f EventFilter) Matches(e AssignmentEvent) bool {
	if f.Repository != "" && !strings.EqualFold(f.Repository, e.Repository) {
		return false
	}
	if f.Assignee != "" && !strings.EqualFold(f.Assignee, e.Assignee) {
		return false
	}
	return true
}

// SSEHub manages SSE client connections and event broadcasting
type SSEHub struct {
	clients map[string]chan AssignmentEvent
	mu      sync.RWMutex
}

func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients: make(map[string]chan AssignmentEvent),
	}
}

// Subscribe registers a new client and returns a channel for receiving events
func (h *SSEHub) Subscribe(clientID string) <-chan AssignmentEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan AssignmentEvent, 100)
	h.clients[clientID] = ch
	return ch
}

// Unsubscribe removes a client from the hub
func (h *SSEHub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[clientID]; ok {
		close(ch)
		delete(h.clients, clientID)
	}
}

// Publish broadcasts an event to all connected clients. A nil hub is a no-op.
func (h *SSEHub) Publish(event AssignmentEvent) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.clients {
		// Non-blocking send - drop event if client buffer is full
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
