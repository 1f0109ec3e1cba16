package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/huangang/claimwatch/internal/models"
	"github.com/huangang/claimwatch/internal/services/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newWebhookRouter(env *testEnv, secret string) *gin.Engine {
	svc := webhook.NewService(env.store, env.queue, env.hub, "claimwatch-bot")
	r := gin.New()
	r.POST("/webhook/github", NewWebhookHandler(svc, secret).HandleGitHub)
	return r
}

func deliver(r http.Handler, event string, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if event != "" {
		req.Header.Set("X-GitHub-Event", event)
	}
	req.Header.Set("X-GitHub-Delivery", "d-1")
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func assignedPayload(t *testing.T) []byte {
	raw, err := json.Marshal(map[string]interface{}{
		"action":     "assigned",
		"issue":      map[string]interface{}{"number": 42, "state": "open", "updated_at": t0},
		"assignee":   map[string]interface{}{"login": "octocat"},
		"repository": map[string]interface{}{"full_name": "acme/widgets"},
		"sender":     map[string]interface{}{"login": "lead"},
	})
	require.NoError(t, err)
	return raw
}

func TestWebhookHandler_Signature(t *testing.T) {
	env := newTestEnv(t)
	r := newWebhookRouter(env, "s3cret")
	body := assignedPayload(t)

	w := deliver(r, "issues", body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = deliver(r, "issues", body, sign("wrong", body))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = deliver(r, "issues", body, sign("s3cret", body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res webhook.Result
	decodeData(t, w, &res)
	assert.True(t, res.Handled)
	require.Len(t, res.AssignmentIDs, 1)

	a, err := env.store.FindLive(context.Background(), "acme/widgets", 42, "octocat")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, a.Status)
}

func TestWebhookHandler_BadRequests(t *testing.T) {
	env := newTestEnv(t)
	r := newWebhookRouter(env, "")

	w := deliver(r, "", assignedPayload(t), "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "event header is required")

	w = deliver(r, "issues", []byte(`{"action":`), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = deliver(r, "ping", []byte(`{}`), "")
	require.Equal(t, http.StatusOK, w.Code)
	var res webhook.Result
	decodeData(t, w, &res)
	assert.Equal(t, "pong", res.Reason)

	w = deliver(r, "push", []byte(`{}`), "")
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &res)
	assert.False(t, res.Handled)
}
