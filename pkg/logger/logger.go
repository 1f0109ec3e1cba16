package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	Init("info", "")
}

// Init configures the process logger. format is "json" or "console"; when
// empty, debug level gets the console writer and everything else JSON.
func Init(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	console := format == "console" || (format == "" && lvl == zerolog.DebugLevel)
	var w io.Writer = os.Stdout
	if console {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}
	}
	SetOutput(w, lvl)
}

// SetOutput points the logger at w; tests use it to silence output.
func SetOutput(w io.Writer, lvl zerolog.Level) {
	log = zerolog.New(w).Level(lvl).With().Timestamp().Caller().Logger()
}

func Debug() *zerolog.Event { return log.Debug() }
func Info() *zerolog.Event  { return log.Info() }
func Warn() *zerolog.Event  { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }

func Debugf(format string, v ...interface{}) { log.Debug().Msgf(format, v...) }
func Infof(format string, v ...interface{})  { log.Info().Msgf(format, v...) }
func Errorf(format string, v ...interface{}) { log.Error().Msgf(format, v...) }

// Fatalf logs and exits the process.
func Fatalf(format string, v ...interface{}) { log.Fatal().Msgf(format, v...) }

// ForAssignment returns a child logger carrying the assignment coordinates.
func ForAssignment(id uint, repo string, issue int) zerolog.Logger {
	return log.With().
		Uint("assignment_id", id).
		Str("repo", repo).
		Int("issue", issue).
		Logger()
}

// GinLogger logs one line per request, keyed by the matched route. Health
// probes and event-stream subscriptions log at debug; errors by status.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		case route == "/health" || strings.HasSuffix(route, "/events"):
			event = log.Debug()
		default:
			event = log.Info()
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int("bytes", c.Writer.Size()).
			Str("client", c.ClientIP()).
			Msg("[HTTP] request")
	}
}

// GinRecovery turns a handler panic into a logged 500.
func GinRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error().
			Interface("panic", recovered).
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Msg("[HTTP] handler panicked")
		c.AbortWithStatusJSON(500, gin.H{"code": 500, "message": "internal server error"})
	})
}
