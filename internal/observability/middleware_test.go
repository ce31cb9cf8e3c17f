package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/linkctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRequestLoggerLevels(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)
	r := gin.New()
	r.Use(RequestLogger(logger), RequestMetricsMiddleware("edge-a"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/link/send", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/link/connect", func(c *gin.Context) { c.Status(http.StatusConflict) })

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/health"},
		{http.MethodPost, "/link/send"},
		{http.MethodPost, "/link/connect"},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(req.method, req.path, nil))
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected health check below info, got %d lines: %s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"level":"info"`) || !strings.Contains(lines[0], `"group":"link"`) {
		t.Fatalf("unexpected send line: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"level":"warn"`) || !strings.Contains(lines[1], `"status":409`) {
		t.Fatalf("unexpected conflict line: %s", lines[1])
	}
}

func TestRequestMetricsSkipsScrapes(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	RegisterMetrics()

	r := gin.New()
	r.Use(RequestMetricsMiddleware("edge-scrape"))
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/link", func(c *gin.Context) { c.Status(http.StatusOK) })
	for _, path := range []string{"/metrics", "/metrics", "/link", "/nope"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	count := func(path, status string) float64 {
		return promtest.ToFloat64(httpRequests.With(prometheus.Labels{
			"node": "edge-scrape", "method": "GET", "path": path, "status": status,
		}))
	}
	if got := count("/metrics", "200"); got != 0 {
		t.Fatalf("scrapes counted: %v", got)
	}
	if got := count("/link", "200"); got != 1 {
		t.Fatalf("link requests=%v", got)
	}
	if got := count("unmatched", "404"); got != 1 {
		t.Fatalf("unmatched requests=%v", got)
	}
}

func TestRouteGroup(t *testing.T) {
	cases := map[string]string{
		"/link/send": "link",
		"/link":      "link",
		"/health":    "health",
		"/":          "root",
		"unmatched":  "unmatched",
	}
	for path, want := range cases {
		if got := routeGroup(path); got != want {
			t.Fatalf("routeGroup(%q)=%q want %q", path, got, want)
		}
	}
}
