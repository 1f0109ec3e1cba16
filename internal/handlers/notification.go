package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/claimwatch/internal/services"
	"github.com/huangang/claimwatch/pkg/response"
)

type NotificationHandler struct {
	store *services.AssignmentStore
}

func NewNotificationHandler(store *services.AssignmentStore) *NotificationHandler {
	return &NotificationHandler{store: store}
}

type NotificationListQuery struct {
	AssignmentID uint   `form:"assignment_id"`
	Type         string `form:"type"`
	Undelivered  bool   `form:"undelivered"`
	Page         int    `form:"page"`
	PageSize     int    `form:"page_size"`
}

// List returns recorded notifications, newest first
// GET /api/notifications
func (h *NotificationHandler) List(c *gin.Context) {
	var q NotificationListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	h.list(c, q)
}

// ListForAssignment is List scoped to one assignment
// GET /api/assignments/:id/notifications
func (h *NotificationHandler) ListForAssignment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var q NotificationListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	q.AssignmentID = id
	h.list(c, q)
}

func (h *NotificationHandler) list(c *gin.Context, q NotificationListQuery) {
	list, total, err := h.store.ListNotifications(c.Request.Context(), services.NotificationFilter{
		AssignmentID: q.AssignmentID,
		Type:         q.Type,
		Undelivered:  q.Undelivered,
		Page:         q.Page,
		PageSize:     q.PageSize,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	response.List(c, list, total)
}
