package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/claimwatch/internal/middleware"
	"github.com/huangang/claimwatch/internal/services"
	"github.com/huangang/claimwatch/pkg/response"
)

// IMBotHandler manages notification channels
type IMBotHandler struct {
	imBotService *services.IMBotService
}

func NewIMBotHandler(svc *services.IMBotService) *IMBotHandler {
	return &IMBotHandler{imBotService: svc}
}

func (h *IMBotHandler) List(c *gin.Context) {
	var req services.IMBotListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	resp, err := h.imBotService.List(c.Request.Context(), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, resp)
}

func (h *IMBotHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	bot, err := h.imBotService.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, bot)
}

func (h *IMBotHandler) Create(c *gin.Context) {
	var req services.CreateIMBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	bot, err := h.imBotService.Create(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, bot)
}

func (h *IMBotHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req services.UpdateIMBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	bot, err := h.imBotService.Update(c.Request.Context(), id, &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, bot)
}

func (h *IMBotHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.imBotService.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, nil)
}

// Test sends a sample message through the channel
// POST /api/admin/im-bots/:id/test
func (h *IMBotHandler) Test(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.imBotService.SendTest(c.Request.Context(), id, middleware.GetLogin(c)); err != nil {
		if errors.Is(err, services.ErrIMBotNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.Error(c, response.NewBadRequest("delivery failed: "+err.Error()).Wrap(err))
		return
	}
	response.Success(c, gin.H{"sent": true})
}

func (h *IMBotHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrIMBotNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, services.ErrInvalidInput):
		response.BadRequest(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}
