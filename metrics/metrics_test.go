package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOrder(t *testing.T) {
	before := testutil.ToFloat64(OrdersPlaced.WithLabelValues("InsufficientStock"))
	ObserveOrder("InsufficientStock", time.Now())
	assert.Equal(t, before+1, testutil.ToFloat64(OrdersPlaced.WithLabelValues("InsufficientStock")))
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/api/products/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(Handler()))

	for _, id := range []string{"a", "b", "c"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/products/"+id, nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, float64(3), testutil.ToFloat64(RequestTotal.WithLabelValues("GET", "/api/products/:id", "200")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `path="/api/products/:id"`))
	assert.False(t, strings.Contains(body, `path="/api/products/a"`))
}
