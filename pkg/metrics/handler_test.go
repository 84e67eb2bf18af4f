package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusHandler_ServesMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", prometheusHandler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestComputeApproximateRequestSize(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", strings.NewReader("12345"))
	req.Host = "localhost"
	req.Header.Set("X-Gateway-Signature", "abcd")

	got := computeApproximateRequestSize(req)
	// Path + method + proto + one header pair + host + body length.
	want := len("/api/v1/webhooks/gateway") + len(http.MethodPost) + len(req.Proto) +
		len("X-Gateway-Signature") + len("abcd") + len("localhost") + 5
	assert.Equal(t, want, got)
}

func TestMillisecondsSince(t *testing.T) {
	start := time.Now().Add(-250 * time.Millisecond)
	got := MillisecondsSince(start)
	assert.GreaterOrEqual(t, got, 250.0)
	assert.Less(t, got, 5000.0)
}
