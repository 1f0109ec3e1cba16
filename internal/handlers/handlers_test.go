package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/claimwatch/internal/config"
	"github.com/huangang/claimwatch/internal/middleware"
	"github.com/huangang/claimwatch/internal/models"
	"github.com/huangang/claimwatch/internal/services"
	"github.com/huangang/claimwatch/internal/utils"
	"github.com/huangang/claimwatch/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	logger.SetOutput(io.Discard, zerolog.Disabled)
	utils.SetJWTSecret("handlers-test-secret")
}

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type recordingQueue struct {
	mu    sync.Mutex
	tasks []services.CheckTask
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, task *services.CheckTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, *task)
	return nil
}

func (q *recordingQueue) IsAsync() bool { return false }
func (q *recordingQueue) Close() error  { return nil }

type testEnv struct {
	db     *gorm.DB
	store  *services.AssignmentStore
	policy *services.ThresholdPolicy
	manual *services.ManualActions
	queue  *recordingQueue
	hub    *services.SSEHub
	router *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "handlers.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, models.Migrate(db))

	now := func() time.Time { return t0 }
	store := services.NewAssignmentStore(db)
	store.Now = now
	policy, err := services.NewThresholdPolicy(config.ThresholdsConfig{Regime: "strict", ConfidenceFloor: 0.5}, services.CalendarClock{})
	require.NoError(t, err)
	hub := services.NewSSEHub()
	manual := services.NewManualActions(store, nil, hub)
	manual.Now = now

	env := &testEnv{db: db, store: store, policy: policy, manual: manual, queue: &recordingQueue{}, hub: hub}

	assignments := NewAssignmentHandler(store, policy, manual, env.queue)
	assignments.Now = now
	notifications := NewNotificationHandler(store)

	r := gin.New()
	api := r.Group("/api")
	api.GET("/assignments", assignments.List)
	api.GET("/assignments/:id", assignments.Get)
	api.GET("/assignments/:id/activity", assignments.Activity)
	api.GET("/assignments/:id/notifications", notifications.ListForAssignment)
	api.GET("/notifications", notifications.List)
	policyHandler := NewPolicyHandler(policy, services.NewHolidayService())
	api.GET("/policy", policyHandler.Get)
	api.GET("/policy/countries", policyHandler.Countries)

	maint := api.Group("", middleware.AuthRequired(), middleware.MaintainerRequired())
	maint.POST("/assignments", assignments.Create)
	maint.POST("/assignments/:id/mark-active", assignments.MarkActive)
	maint.POST("/assignments/:id/extend", assignments.Extend)
	maint.POST("/assignments/:id/whitelist", assignments.Whitelist)
	maint.DELETE("/assignments/:id/whitelist", assignments.Unwhitelist)
	maint.POST("/assignments/:id/check", assignments.Check)
	env.router = r
	return env
}

func maintainerToken(t *testing.T, login string) string {
	t.Helper()
	token, err := utils.GenerateToken(login, services.RoleMaintainer, 1)
	require.NoError(t, err)
	return token
}

// do sends body as JSON; token may be empty.
func do(r http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(resp.Data, out))
	}
	return resp
}

type listPage[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

func (env *testEnv) create(t *testing.T, issue int, assignee string, assignedAt time.Time) *models.Assignment {
	t.Helper()
	a, _, err := env.store.Create(context.Background(), &models.Assignment{
		Repository: "acme/widgets", IssueNumber: issue, Assignee: assignee, AssignedAt: assignedAt,
	})
	require.NoError(t, err)
	return a
}
