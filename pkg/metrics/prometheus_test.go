package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_MiddlewareAndBusinessMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()

	p := NewPrometheus(NewPrometheusOptions{
		Subsystem:   "test",
		MetricsList: BusinessMetrics,
		Registerer:  reg,
		Gatherer:    reg,
		ReqCntURLLabelMappingFn: func(c *gin.Context) string {
			return c.FullPath()
		},
	})

	r := gin.New()
	p.Use(r)
	r.GET("/ping/:id", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping/42", nil))
	require.Equal(t, http.StatusOK, w.Code)

	require.Equal(t, 1.0, testutil.ToFloat64(p.reqCnt.WithLabelValues("200", "GET", "/ping/:id", "")))

	IncWebhookEvent("checkout.session.completed", "handled")
	IncWebhookEvent("checkout.session.completed", "handled")
	c := MetricsWebhookEvents.MetricCollector.(*prometheus.CounterVec)
	require.Equal(t, 2.0, testutil.ToFloat64(c.WithLabelValues("checkout.session.completed", "handled")))

	ObserveProcess("webhook", "checkout.session.completed", time.Now())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.True(t, strings.Contains(body, "test_webhook_events_total"))
	require.True(t, strings.Contains(body, "test_bp_dur"))
}

func TestComputeApproximateRequestSize(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/a", strings.NewReader("12345"))
	req.Header.Set("X-K", "v")
	got := computeApproximateRequestSize(req)
	// path + method + proto + header + host + body
	want := len("/a") + len("POST") + len("HTTP/1.1") + len("X-K") + len("v") + len(req.Host) + 5
	require.Equal(t, want, got)
}
