package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"judgehub/internal/common/http/middleware"
	"judgehub/internal/common/metrics"
	"judgehub/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func TestTraceContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.TraceContextMiddleware())

	var ginTrace, ctxTrace, ctxRequest string
	router.GET("/trace", func(c *gin.Context) {
		ginTrace = c.GetString(contextkey.TraceID.String())
		ctxTrace, _ = c.Request.Context().Value(contextkey.TraceID).(string)
		ctxRequest, _ = c.Request.Context().Value(contextkey.RequestID).(string)
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		name          string
		headers       map[string]string
		wantTraceID   string
		wantRequestID string
	}{
		{name: "generate trace and request id"},
		{
			name: "preserve incoming ids",
			headers: map[string]string{
				"X-Trace-Id":   "trace-123",
				"X-Request-Id": "req-123",
			},
			wantTraceID:   "trace-123",
			wantRequestID: "req-123",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			router.ServeHTTP(rec, req)

			if ginTrace == "" || ctxTrace == "" || ctxRequest == "" {
				t.Fatalf("expected ids in gin and request context, got %q %q %q", ginTrace, ctxTrace, ctxRequest)
			}
			if ginTrace != ctxTrace {
				t.Fatalf("gin and request context disagree: %q vs %q", ginTrace, ctxTrace)
			}
			if rec.Header().Get("X-Trace-Id") != ctxTrace {
				t.Fatalf("expected trace id header %q, got %q", ctxTrace, rec.Header().Get("X-Trace-Id"))
			}
			if rec.Header().Get("X-Request-Id") != ctxRequest {
				t.Fatalf("expected request id header %q", ctxRequest)
			}
			if tc.wantTraceID != "" && ctxTrace != tc.wantTraceID {
				t.Fatalf("expected trace id %s, got %s", tc.wantTraceID, ctxTrace)
			}
			if tc.wantRequestID != "" && ctxRequest != tc.wantRequestID {
				t.Fatalf("expected request id %s, got %s", tc.wantRequestID, ctxRequest)
			}
		})
	}
}

func TestAccessLogObservesRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, metrics.Labels("test"))

	router := gin.New()
	router.Use(middleware.AccessLog(m))
	router.GET("/solutions/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for _, path := range []string{"/solutions/s1", "/solutions/s2", "/missing"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	routes := map[string]uint64{}
	for _, family := range families {
		if family.GetName() != "judgehub_http_request_duration_seconds" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "route" {
					routes[label.GetValue()] += metric.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	if routes["/solutions/:id"] != 2 {
		t.Fatalf("expected 2 samples for templated route, got %v", routes)
	}
	if routes["unmatched"] != 1 {
		t.Fatalf("expected 1 unmatched sample, got %v", routes)
	}
}

func TestAccessLogWithoutMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.AccessLog(nil))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
