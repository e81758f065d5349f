package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupTestMeter(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
	})
	return mp, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetricByName(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestHTTPMetrics_Disabled(t *testing.T) {
	for name, cfg := range map[string]HTTPMetricsConfig{
		"disabled":           {Enabled: false},
		"nil meter provider": {Enabled: true},
	} {
		t.Run(name, func(t *testing.T) {
			router := gin.New()
			router.Use(HTTPMetrics(cfg))
			router.GET("/test", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"message": "ok"})
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestHTTPMetricsWithMeter(t *testing.T) {
	mp, reader := setupTestMeter(t)

	router := gin.New()
	router.Use(HTTPMetricsWithMeter(mp.Meter("http.server"), true))
	router.GET("/api/v1/invoices/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})
	router.POST("/api/v1/bank-transactions", func(c *gin.Context) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false})
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/invoices/a1", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/invoices/b2", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/bank-transactions",
		strings.NewReader(`{"amount":"10.00"}`)))

	rm := collectMetrics(t, reader)

	t.Run("request total by route pattern", func(t *testing.T) {
		m := findMetricByName(rm, "http_server_request_total")
		require.NotNil(t, m)
		sum, ok := m.Data.(metricdata.Sum[int64])
		require.True(t, ok)

		counts := map[string]int64{}
		for _, dp := range sum.DataPoints {
			route, _ := dp.Attributes.Value(attrHTTPRoute)
			class, _ := dp.Attributes.Value(attrStatusKind)
			counts[route.AsString()+" "+class.AsString()] += dp.Value
		}
		assert.Equal(t, int64(2), counts["/api/v1/invoices/:id 2xx"])
		assert.Equal(t, int64(1), counts["/api/v1/bank-transactions 4xx"])
	})

	t.Run("duration histogram has no status attribute", func(t *testing.T) {
		m := findMetricByName(rm, "http_server_request_duration_seconds")
		require.NotNil(t, m)
		hist, ok := m.Data.(metricdata.Histogram[float64])
		require.True(t, ok)
		require.NotEmpty(t, hist.DataPoints)
		for _, dp := range hist.DataPoints {
			_, has := dp.Attributes.Value(attrHTTPStatus)
			assert.False(t, has)
		}
	})

	t.Run("request size only for bodies", func(t *testing.T) {
		m := findMetricByName(rm, "http_server_request_size_bytes")
		require.NotNil(t, m)
		hist, ok := m.Data.(metricdata.Histogram[float64])
		require.True(t, ok)
		require.Len(t, hist.DataPoints, 1)
		assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
		method, _ := hist.DataPoints[0].Attributes.Value(attrHTTPMethod)
		assert.Equal(t, http.MethodPost, method.AsString())
	})

	t.Run("active requests settle to zero", func(t *testing.T) {
		m := findMetricByName(rm, "http_server_active_requests")
		require.NotNil(t, m)
		sum, ok := m.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		var total int64
		for _, dp := range sum.DataPoints {
			total += dp.Value
		}
		assert.Zero(t, total)
	})
}

func TestHTTPMetrics_UnmatchedRoute(t *testing.T) {
	mp, reader := setupTestMeter(t)

	router := gin.New()
	router.Use(HTTPMetricsWithMeter(mp.Meter("http.server"), true))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	m := findMetricByName(collectMetrics(t, reader), "http_server_request_total")
	require.NotNil(t, m)
	sum := m.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	route, ok := sum.DataPoints[0].Attributes.Value(attrHTTPRoute)
	require.True(t, ok)
	assert.Equal(t, "unknown", route.AsString())
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{302, "3xx"},
		{404, "4xx"},
		{409, "4xx"},
		{502, "5xx"},
		{100, "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusClass(tt.status), "status %d", tt.status)
	}
}
