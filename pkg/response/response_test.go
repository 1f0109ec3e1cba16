package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func performRequest(handler gin.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	handler(c)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return resp
}

func TestSuccessHelpers(t *testing.T) {
	tests := []struct {
		name       string
		handler    gin.HandlerFunc
		wantStatus int
		wantMsg    string
	}{
		{"success", func(c *gin.Context) { Success(c, gin.H{"status": "ACTIVE"}) }, http.StatusOK, "ok"},
		{"created", func(c *gin.Context) { Created(c, gin.H{"id": 1}) }, http.StatusCreated, "created"},
		{"accepted", func(c *gin.Context) { Accepted(c, gin.H{"queued": true}) }, http.StatusAccepted, "accepted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performRequest(tt.handler)
			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			resp := parseResponse(t, w)
			if resp.Code != 0 || resp.Message != tt.wantMsg {
				t.Errorf("got code=%d message=%q", resp.Code, resp.Message)
			}
		})
	}
}

func TestList(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		List(c, []string{"a", "b"}, 7)
	})

	var body struct {
		Data ListData `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Data.Total != 7 {
		t.Errorf("expected total 7, got %d", body.Data.Total)
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name       string
		handler    gin.HandlerFunc
		wantStatus int
	}{
		{"bad request", func(c *gin.Context) { BadRequest(c, "invalid input") }, http.StatusBadRequest},
		{"unauthorized", func(c *gin.Context) { Unauthorized(c, "token expired") }, http.StatusUnauthorized},
		{"forbidden", func(c *gin.Context) { Forbidden(c, "maintainer required") }, http.StatusForbidden},
		{"not found", func(c *gin.Context) { NotFound(c, "assignment not found") }, http.StatusNotFound},
		{"too many", func(c *gin.Context) { TooManyRequests(c, "slow down") }, http.StatusTooManyRequests},
		{"server error", func(c *gin.Context) { ServerError(c, "internal error") }, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performRequest(tt.handler)
			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if resp := parseResponse(t, w); resp.Code != tt.wantStatus {
				t.Errorf("expected code %d, got %d", tt.wantStatus, resp.Code)
			}
		})
	}
}

func TestError_WithWrappedAppError(t *testing.T) {
	cause := errors.New("record not found")
	w := performRequest(func(c *gin.Context) {
		Error(c, fmt.Errorf("load: %w", NewNotFound("assignment not found").Wrap(cause)))
	})

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	resp := parseResponse(t, w)
	if resp.Message != "assignment not found" {
		t.Errorf("cause leaked into message: %q", resp.Message)
	}
}

func TestError_WithGenericError(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		Error(c, errors.New("something went wrong"))
	})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("conflict")
	err := NewConflict("assignment changed concurrently").Wrap(cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the wrapped cause")
	}
	if err.Error() != "assignment changed concurrently" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
