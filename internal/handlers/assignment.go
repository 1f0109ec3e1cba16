package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/claimwatch/internal/middleware"
	"github.com/huangang/claimwatch/internal/models"
	"github.com/huangang/claimwatch/internal/services"
	"github.com/huangang/claimwatch/pkg/logger"
	"github.com/huangang/claimwatch/pkg/response"
)

type AssignmentHandler struct {
	store  *services.AssignmentStore
	policy *services.ThresholdPolicy
	manual *services.ManualActions
	queue  services.TaskQueue
	Now    func() time.Time
}

func NewAssignmentHandler(store *services.AssignmentStore, policy *services.ThresholdPolicy, manual *services.ManualActions, queue services.TaskQueue) *AssignmentHandler {
	return &AssignmentHandler{
		store:  store,
		policy: policy,
		manual: manual,
		queue:  queue,
		Now:    time.Now,
	}
}

type AssignmentListQuery struct {
	Status     string `form:"status"`
	Repository string `form:"repository"`
	Assignee   string `form:"assignee"`
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
}

type CreateAssignmentRequest struct {
	Repository  string     `json:"repository" binding:"required"`
	IssueNumber int        `json:"issue_number" binding:"required,min=1"`
	Assignee    string     `json:"assignee" binding:"required"`
	AssignedAt  *time.Time `json:"assigned_at"`
}

type ExtendRequest struct {
	Days int `json:"days" binding:"required"`
}

// ThresholdView is a Thresholds value in both seconds and human form.
type ThresholdView struct {
	WarningSeconds      int64  `json:"warning_seconds"`
	AlertSeconds        int64  `json:"alert_seconds"`
	AutoUnassignSeconds int64  `json:"auto_unassign_seconds"`
	Warning             string `json:"warning"`
	Alert               string `json:"alert"`
	AutoUnassign        string `json:"auto_unassign"`
}

func newThresholdView(t services.Thresholds) ThresholdView {
	return ThresholdView{
		WarningSeconds:      int64(t.Warning / time.Second),
		AlertSeconds:        int64(t.Alert / time.Second),
		AutoUnassignSeconds: int64(t.AutoUnassign / time.Second),
		Warning:             services.FormatDuration(t.Warning),
		Alert:               services.FormatDuration(t.Alert),
		AutoUnassign:        services.FormatDuration(t.AutoUnassign),
	}
}

// AssignmentDetail is an assignment plus the thresholds currently applied to it.
type AssignmentDetail struct {
	*models.Assignment
	Thresholds ThresholdView `json:"thresholds"`
	Multiplier float64       `json:"multiplier"`
	Elapsed    string        `json:"elapsed"`
	Clock      string        `json:"clock"`
	IssueURL   string        `json:"issue_url"`
}

func (h *AssignmentHandler) detail(a *models.Assignment) AssignmentDetail {
	ref := a.LastActivityAt
	if a.DeadlineExtendedUntil != nil && a.DeadlineExtendedUntil.After(ref) {
		ref = *a.DeadlineExtendedUntil
	}
	clock := h.policy.Clock()
	return AssignmentDetail{
		Assignment: a,
		Thresholds: newThresholdView(h.policy.ThresholdsFor(a.AI)),
		Multiplier: h.policy.Multiplier(a.AI),
		Elapsed:    services.FormatDuration(clock.Elapsed(ref, h.Now())),
		Clock:      clock.Describe(),
		IssueURL:   a.IssueURL(),
	}
}

// List returns assignments filtered by status, repository and assignee
// GET /api/assignments
func (h *AssignmentHandler) List(c *gin.Context) {
	var q AssignmentListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	list, total, err := h.store.List(c.Request.Context(), services.AssignmentFilter{
		Status:     q.Status,
		Repository: q.Repository,
		Assignee:   q.Assignee,
		Page:       q.Page,
		PageSize:   q.PageSize,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	response.List(c, list, total)
}

// GET /api/assignments/:id
func (h *AssignmentHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	a, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, h.detail(a))
}

// Create starts tracking an assignment that was missed by the webhook
// POST /api/assignments
func (h *AssignmentHandler) Create(c *gin.Context) {
	var req CreateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	a := &models.Assignment{
		Repository:  req.Repository,
		IssueNumber: req.IssueNumber,
		Assignee:    req.Assignee,
	}
	if req.AssignedAt != nil {
		a.AssignedAt = *req.AssignedAt
	}
	saved, created, err := h.store.Create(c.Request.Context(), a)
	if err != nil {
		serviceError(c, err)
		return
	}
	if !created {
		response.Success(c, h.detail(saved))
		return
	}
	log := logger.ForAssignment(saved.ID, saved.Repository, saved.IssueNumber)
	log.Info().Str("assignee", saved.Assignee).Str("by", middleware.GetLogin(c)).Msg("[Assignment] Tracking started manually")
	response.Created(c, h.detail(saved))
}

// Activity returns the activity log, optionally bounded by from/to (RFC 3339)
// GET /api/assignments/:id/activity
func (h *AssignmentHandler) Activity(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	from, err := parseTimeQuery(c, "from")
	if err != nil {
		response.BadRequest(c, "invalid from: "+err.Error())
		return
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		response.BadRequest(c, "invalid to: "+err.Error())
		return
	}

	if _, err := h.store.Get(c.Request.Context(), id); err != nil {
		serviceError(c, err)
		return
	}
	events, err := h.store.ListActivity(c.Request.Context(), id, from, to)
	if err != nil {
		serviceError(c, err)
		return
	}
	response.List(c, events, int64(len(events)))
}

// POST /api/assignments/:id/mark-active
func (h *AssignmentHandler) MarkActive(c *gin.Context) {
	h.manualAction(c, h.manual.MarkActive)
}

// POST /api/assignments/:id/extend
func (h *AssignmentHandler) Extend(c *gin.Context) {
	var req ExtendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	h.manualAction(c, func(ctx context.Context, id uint, actor string) (*models.Assignment, error) {
		return h.manual.ExtendDeadline(ctx, id, req.Days, actor)
	})
}

// POST /api/assignments/:id/whitelist
func (h *AssignmentHandler) Whitelist(c *gin.Context) {
	h.manualAction(c, h.manual.Whitelist)
}

// DELETE /api/assignments/:id/whitelist
func (h *AssignmentHandler) Unwhitelist(c *gin.Context) {
	h.manualAction(c, h.manual.Unwhitelist)
}

type manualActionFunc func(ctx context.Context, id uint, actor string) (*models.Assignment, error)

func (h *AssignmentHandler) manualAction(c *gin.Context, action manualActionFunc) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	a, err := action(c.Request.Context(), id, middleware.GetLogin(c))
	if err != nil {
		serviceError(c, err)
		return
	}
	response.Success(c, h.detail(a))
}

// Check queues an immediate evaluation of one assignment
// POST /api/assignments/:id/check
func (h *AssignmentHandler) Check(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	a, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}
	if a.Status.IsTerminal() {
		serviceError(c, services.ErrAssignmentClosed)
		return
	}

	task := &services.CheckTask{AssignmentID: id, RequestedBy: middleware.GetLogin(c)}
	if err := h.queue.Enqueue(c.Request.Context(), task); err != nil {
		logger.Error().Err(err).Uint("assignment_id", id).Msg("[Assignment] Failed to enqueue check")
		response.ServerError(c, "failed to queue check")
		return
	}
	response.Accepted(c, gin.H{
		"assignment_id": id,
		"async":         h.queue.IsAsync(),
	})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}

func parseTimeQuery(c *gin.Context, key string) (time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

// serviceError maps service sentinels to HTTP statuses.
func serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrAssignmentNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, services.ErrAssignmentClosed), errors.Is(err, services.ErrWriteConflict), errors.Is(err, services.ErrLeaseHeld):
		response.Error(c, response.NewConflict(err.Error()).Wrap(err))
	case errors.Is(err, services.ErrInvalidInput):
		response.BadRequest(c, err.Error())
	default:
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("[API] Request failed")
		response.ServerError(c, "internal server error")
	}
}
