package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var corsHeaders = []string{
	"Origin", "Accept", "Content-Type", "Authorization", "Cache-Control", "Last-Event-ID",
	"X-GitHub-Event", "X-GitHub-Delivery", "X-Hub-Signature-256",
}

// CORS lets the dashboard call the API and subscribe to the event stream.
// With no origins configured any origin is echoed back.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     corsHeaders,
		ExposeHeaders:    []string{"Content-Length", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed[o] = true
		}
	}
	cfg.AllowOriginFunc = func(origin string) bool {
		return len(allowed) == 0 || allowed[origin]
	}
	return cors.New(cfg)
}
