package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/claimwatch/internal/services"
	"github.com/huangang/claimwatch/internal/services/github"
	"github.com/huangang/claimwatch/internal/services/webhook"
	"github.com/huangang/claimwatch/pkg/logger"
	"github.com/huangang/claimwatch/pkg/response"
)

const maxWebhookBody = 5 << 20

type WebhookHandler struct {
	service *webhook.Service
	secret  string
}

// NewWebhookHandler verifies deliveries against secret when it is non-empty.
func NewWebhookHandler(service *webhook.Service, secret string) *WebhookHandler {
	return &WebhookHandler{service: service, secret: secret}
}

// HandleGitHub receives issue and comment deliveries
// POST /webhook/github
func (h *WebhookHandler) HandleGitHub(c *gin.Context) {
	eventType := c.GetHeader("X-GitHub-Event")
	delivery := c.GetHeader("X-GitHub-Delivery")
	if eventType == "" {
		response.BadRequest(c, "missing X-GitHub-Event header")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}

	if h.secret != "" {
		signature := c.GetHeader("X-Hub-Signature-256")
		if !github.VerifySignature(h.secret, body, signature) {
			logger.Warn().Str("delivery", delivery).Str("event", eventType).Str("ip", c.ClientIP()).
				Msg("[Webhook] Invalid signature")
			response.Unauthorized(c, "invalid signature")
			return
		}
	}

	result, err := h.service.HandleGitHubWebhook(c.Request.Context(), eventType, body)
	if err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			logger.Warn().Err(err).Str("delivery", delivery).Str("event", eventType).Msg("[Webhook] Bad payload")
			response.BadRequest(c, err.Error())
			return
		}
		logger.Error().Err(err).Str("delivery", delivery).Str("event", eventType).Msg("[Webhook] Processing failed")
		response.ServerError(c, "webhook processing failed")
		return
	}

	logger.Info().Str("delivery", delivery).Str("event", result.Event).Str("action", result.Action).
		Bool("handled", result.Handled).Str("reason", result.Reason).Msg("[Webhook] Delivery processed")
	response.Success(c, result)
}
