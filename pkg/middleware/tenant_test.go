package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTenantEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.ContextWithFallback = true
	return e
}

func TestTenantStagesHeaderOnRequestContext(t *testing.T) {
	e := newTenantEngine()

	var fromRequest, fromGin string
	e.GET("/x", Error(), Tenant(), func(c *gin.Context) {
		fromRequest = TenantFromContext(c.Request.Context())
		// gin.Context is itself a context.Context; with the engine
		// fallback enabled it must resolve the same value
		fromGin = TenantFromContext(c)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(TenantHeader, "tenant-42")
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "tenant-42", fromRequest)
	require.Equal(t, "tenant-42", fromGin)
}

func TestTenantRejectsMissingHeader(t *testing.T) {
	e := newTenantEngine()

	e.GET("/x", Error(), Tenant(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}
