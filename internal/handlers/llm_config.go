package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/claimwatch/internal/services"
	"github.com/huangang/claimwatch/pkg/response"
)

// LLMConfigHandler manages the classifier's model endpoints
type LLMConfigHandler struct {
	llmConfigService *services.LLMConfigService
}

func NewLLMConfigHandler(svc *services.LLMConfigService) *LLMConfigHandler {
	return &LLMConfigHandler{llmConfigService: svc}
}

func (h *LLMConfigHandler) List(c *gin.Context) {
	var req services.LLMConfigListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.llmConfigService.List(c.Request.Context(), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, resp)
}

func (h *LLMConfigHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	cfg, err := h.llmConfigService.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, cfg)
}

func (h *LLMConfigHandler) Create(c *gin.Context) {
	var req services.CreateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	cfg, err := h.llmConfigService.Create(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, cfg)
}

func (h *LLMConfigHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req services.UpdateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	cfg, err := h.llmConfigService.Update(c.Request.Context(), id, &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, cfg)
}

func (h *LLMConfigHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.llmConfigService.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, nil)
}

// Test classifies sample text with one model
// POST /api/admin/llm-configs/:id/test
func (h *LLMConfigHandler) Test(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req services.TestLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	j, err := h.llmConfigService.Test(c.Request.Context(), id, req.Text)
	if err != nil {
		if errors.Is(err, services.ErrLLMConfigNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.Success(c, gin.H{"ok": false, "error": err.Error()})
		return
	}
	response.Success(c, gin.H{"ok": true, "judgment": j})
}

func (h *LLMConfigHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrLLMConfigNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, services.ErrInvalidInput):
		response.BadRequest(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}
