package middleware

import (
	"bytes"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/claimwatch/pkg/logger"
)

const maxAuditBody = 2000

// AuditLog records maintainer write requests (who, what, outcome) in the
// structured log. Request bodies are truncated and secrets masked.
func AuditLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != "POST" && method != "PUT" && method != "DELETE" {
			c.Next()
			return
		}

		var body string
		if c.Request.Body != nil {
			raw, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(raw))
			body = string(raw)
			if len(body) > maxAuditBody {
				body = body[:maxAuditBody] + "...[truncated]"
			}
			body = maskSensitiveFields(body)
		}

		c.Next()

		resource, action := parseRouteInfo(c.FullPath(), method)
		status := c.Writer.Status()
		evt := logger.Info()
		if status >= 400 {
			evt = logger.Warn()
		}
		evt.Str("login", GetLogin(c)).
			Str("resource", resource).
			Str("action", action).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Str("ip", c.ClientIP()).
			Str("body", body).
			Msg("[Audit] Maintainer request")
	}
}

// parseRouteInfo maps a route pattern to a resource and action:
// "/api/assignments/:id/extend" + POST → ("assignments", "extend"),
// "/api/assignments" + POST → ("assignments", "create").
func parseRouteInfo(fullPath, method string) (resource, action string) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(fullPath, "/api/"), "/"), "/")
	resource = parts[0]
	if resource == "" {
		resource = "unknown"
	}

	last := parts[len(parts)-1]
	if len(parts) > 1 && !strings.HasPrefix(last, ":") {
		return resource, last
	}
	switch method {
	case "POST":
		action = "create"
	case "PUT":
		action = "update"
	case "DELETE":
		action = "delete"
	default:
		action = strings.ToLower(method)
	}
	return resource, action
}

var sensitiveKeys = []string{"password", "api_key", "secret", "token", "access_token"}

func maskSensitiveFields(body string) string {
	lower := strings.ToLower(body)
	for _, key := range sensitiveKeys {
		if strings.Contains(lower, `"`+key+`"`) {
			body = maskJSONValue(body, key)
			lower = strings.ToLower(body)
		}
	}
	return body
}

// maskJSONValue does a best-effort mask of the string value after "key":
func maskJSONValue(body, key string) string {
	idx := strings.Index(strings.ToLower(body), `"`+key+`"`)
	if idx == -1 {
		return body
	}
	rest := idx + len(key) + 2
	colon := strings.Index(body[rest:], ":")
	if colon == -1 {
		return body
	}
	start := rest + colon + 1
	for start < len(body) && (body[start] == ' ' || body[start] == '\t') {
		start++
	}
	if start >= len(body) || body[start] != '"' {
		return body
	}
	end := strings.Index(body[start+1:], `"`)
	if end == -1 {
		return body
	}
	return body[:start+1] + "***" + body[start+1+end:]
}
