package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/claimwatch/internal/config"
	"github.com/huangang/claimwatch/internal/middleware"
	"github.com/huangang/claimwatch/internal/models"
	"github.com/huangang/claimwatch/internal/services"
	"github.com/huangang/claimwatch/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu   sync.Mutex
	runs int
	last *services.RunReport
}

func (f *fakeRunner) RunOnce(context.Context) services.RunReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	r := services.RunReport{
		StartedAt: t0,
		Total:     2,
		Counts:    map[services.CheckOutcome]int{services.OutcomeUnchanged: 2},
	}
	f.last = &r
	return r
}

func (f *fakeRunner) LastReport() *services.RunReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func TestMonitorHandler(t *testing.T) {
	runner := &fakeRunner{}
	h := NewMonitorHandler(runner, time.Minute)
	r := gin.New()
	r.POST("/api/monitor/run", h.Run)
	r.GET("/api/monitor/report", h.Report)

	w := do(r, http.MethodGet, "/api/monitor/report", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/monitor/run?wait=true", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report services.RunReport
	decodeData(t, w, &report)
	assert.Equal(t, 2, report.Total)

	w = do(r, http.MethodPost, "/api/monitor/run", "", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Eventually(t, func() bool { return runner.runCount() == 2 }, time.Second, 5*time.Millisecond)

	w = do(r, http.MethodGet, "/api/monitor/report", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, 1, "octocat", t0)
	env.create(t, 2, "hubot", t0)
	runner := &fakeRunner{}
	runner.RunOnce(context.Background())

	r := gin.New()
	r.GET("/health", NewHealthHandler(env.db, env.queue, env.store, env.hub, runner).CheckHealth)

	w := do(r, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"status":"healthy"`)
	assert.Contains(t, body, `"trackable":2`)
	assert.Contains(t, body, `"queue_mode":"sync"`)
	assert.Contains(t, body, `"last_cycle"`)
}

func TestAuthHandler(t *testing.T) {
	hash, err := utils.HashPassword("s3cret")
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	cfg.Maintainers = []config.MaintainerConfig{{Login: "lead", PasswordHash: hash, Role: services.RoleAdmin}}
	h := NewAuthHandler(services.NewMaintainerAuth(cfg))

	r := gin.New()
	r.POST("/api/auth/login", h.Login)
	r.GET("/api/auth/config", h.Config)
	r.GET("/api/auth/me", middleware.AuthRequired(), h.Me)

	w := do(r, http.MethodPost, "/api/auth/login", "", map[string]string{"login": "lead", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(r, http.MethodPost, "/api/auth/login", "", map[string]string{"login": "lead"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/auth/login", "", map[string]string{"login": "lead", "password": "s3cret"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result services.LoginResult
	decodeData(t, w, &result)
	require.NotEmpty(t, result.Token)
	assert.Equal(t, "local", result.Maintainer.Source)

	w = do(r, http.MethodGet, "/api/auth/me", result.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me map[string]string
	decodeData(t, w, &me)
	assert.Equal(t, map[string]string{"login": "lead", "role": "admin"}, me)

	w = do(r, http.MethodGet, "/api/auth/config", "", nil)
	assert.Contains(t, w.Body.String(), `"ldap_enabled":false`)
}

// streamRecorder lets the test read the body while the stream is open.
type streamRecorder struct {
	*httptest.ResponseRecorder
	mu     sync.Mutex
	closed chan bool
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
}

func (r *streamRecorder) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(b)
}

func (r *streamRecorder) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

func (r *streamRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResponseRecorder.Flush()
}

func (r *streamRecorder) CloseNotify() <-chan bool { return r.closed }

func (r *streamRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

func TestSSEHandler_StreamsAssignmentEvents(t *testing.T) {
	hub := services.NewSSEHub()
	r := gin.New()
	handler := NewSSEHandler(hub)
	handler.Heartbeat = 20 * time.Millisecond
	r.GET("/api/events/assignments", handler.StreamAssignmentEvents)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events/assignments?repository=acme/widgets", nil).WithContext(ctx)
	rec := newStreamRecorder()
	done := make(chan struct{})
	go func() {
		r.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	hub.Publish(services.AssignmentEvent{AssignmentID: 6, Repository: "acme/gadgets", Status: models.StatusAlert})
	hub.Publish(services.AssignmentEvent{AssignmentID: 7, Repository: "acme/widgets", Status: models.StatusWarning})
	require.Eventually(t, func() bool {
		return strings.Contains(rec.body(), `"assignment_id":7`)
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(rec.body(), ": ping\n\n")
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not close after the client went away")
	}
	assert.Equal(t, 0, hub.ClientCount())
	assert.Contains(t, rec.body(), "event: assignment\n")
	assert.NotContains(t, rec.body(), `"assignment_id":6`)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}
