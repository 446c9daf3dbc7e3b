package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMiddleware_CountsRequestsByRoutePattern(t *testing.T) {
	HTTPRequestsTotal.Reset()

	r := gin.New()
	r.Use(Middleware())
	r.GET("/api/v1/risk-score/:protocol", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for _, protocol := range []string{"aave", "curve"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/risk-score/"+protocol, nil)
		r.ServeHTTP(w, req)
	}

	// Both requests land on the same route pattern, not per-protocol labels.
	counter, err := HTTPRequestsTotal.GetMetricWithLabelValues("GET", "/api/v1/risk-score/:protocol", "200")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	m := &dto.Metric{}
	_ = counter.Write(m)
	if m.Counter.GetValue() != 2.0 {
		t.Errorf("expected counter value 2, got %f", m.Counter.GetValue())
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	HTTPRequestsTotal.Reset()

	r := gin.New()
	r.Use(Middleware())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/no/such/route", nil)
	r.ServeHTTP(w, req)

	counter, err := HTTPRequestsTotal.GetMetricWithLabelValues("GET", "unmatched", "404")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	m := &dto.Metric{}
	_ = counter.Write(m)
	if m.Counter.GetValue() != 1.0 {
		t.Errorf("expected counter value 1, got %f", m.Counter.GetValue())
	}
}

func TestMiddleware_ObservesDuration(t *testing.T) {
	HTTPRequestDuration.Reset()

	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	ch := make(chan prometheus.Metric, 10)
	HTTPRequestDuration.Collect(ch)
	close(ch)

	found := false
	for metric := range ch {
		m := &dto.Metric{}
		_ = metric.Write(m)
		if m.Histogram != nil && m.Histogram.GetSampleCount() == 1 {
			found = true
		}
	}
	if !found {
		t.Error("expected histogram with 1 sample")
	}
}

func TestMetrics_Registered(t *testing.T) {
	names := []string{
		"solsentry_http_requests_total",
		"solsentry_payment_verifications_total",
		"solsentry_chain_lookups_total",
		"solsentry_source_fetches_total",
		"solsentry_cache_ops_total",
	}

	gathered, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := make(map[string]bool)
	for _, mf := range gathered {
		found[mf.GetName()] = true
	}

	for _, name := range names {
		if !found[name] {
			// Counters with no observations are not gathered; existence of
			// the vec objects is what registration guarantees.
			t.Logf("metric %s not yet gathered (no data written)", name)
		}
	}
}
