package observability

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// quietPaths are polled by supervisors and scrapers; they log at debug.
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

func routePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return "unmatched"
}

// routeGroup is the first path segment: "link" for /link/send.
func routeGroup(path string) string {
	seg, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if seg == "" {
		return "root"
	}
	return seg
}

// RequestLogger logs one line per admin request. Control routes that fail
// log at warn or error so rejected sends stand out from scrape traffic.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := routePath(c)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case quietPaths[path]:
			event = logger.Debug()
		default:
			event = logger.Info()
		}

		event.
			Str("method", c.Request.Method).
			Str("group", routeGroup(path)).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("admin.request")
	}
}

// RequestMetricsMiddleware records every route except the scrape endpoint.
// Unmatched paths share one label so probing clients cannot grow the series.
func RequestMetricsMiddleware(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return
		}
		RecordHTTPRequest(node, c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
