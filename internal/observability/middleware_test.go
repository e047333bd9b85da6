package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/charlink/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAdminRequestsLabelsRoutesAndLinkState(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	capture := testlog.NewCapture()
	r := gin.New()
	r.Use(AdminRequests(capture.Logger(), "zone-mw", func() string { return "registering" }))
	r.GET("/zones/:name", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/zones/prontera", "/zones/izlude", "/health", "/nope/1", "/nope/2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if v := testutil.ToFloat64(httpRequests.WithLabelValues("zone-mw", "GET", "/zones/:name", "200")); v != 2 {
		t.Fatalf("templated route count=%v", v)
	}
	if v := testutil.ToFloat64(httpRequests.WithLabelValues("zone-mw", "GET", UnmatchedRoute, "404")); v != 2 {
		t.Fatalf("unmatched count=%v", v)
	}
	if n := capture.Count(`"link_state":"registering"`); n != 5 {
		t.Fatalf("link_state tagged on %d lines\n%s", n, capture.String())
	}
	if n := capture.Count(`"level":"warn"`); n != 2 {
		t.Fatalf("warn lines=%d\n%s", n, capture.String())
	}
	if n := capture.Count(`"level":"debug"`); n != 1 {
		t.Fatalf("health should log at debug, got %d\n%s", n, capture.String())
	}
}
