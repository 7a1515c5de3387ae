package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGinMiddleware_CountsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/rooms/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	labels := prometheus.Labels{"method": "GET", "path": "/rooms/:id", "status": "204"}
	before := testutil.ToFloat64(HttpRequestsTotal.With(labels))
	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/rooms/"+id, nil))
	}
	if got := testutil.ToFloat64(HttpRequestsTotal.With(labels)) - before; got != 2 {
		t.Errorf("requests counted = %v, want 2", got)
	}

	unmatched := prometheus.Labels{"method": "GET", "path": "unmatched", "status": "404"}
	before = testutil.ToFloat64(HttpRequestsTotal.With(unmatched))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/1", nil))
	if got := testutil.ToFloat64(HttpRequestsTotal.With(unmatched)) - before; got != 1 {
		t.Errorf("unmatched counted = %v, want 1", got)
	}
}
