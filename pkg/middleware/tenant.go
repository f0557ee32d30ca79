package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"slotwise-platform/pkg/errutil"
)

const TenantHeader = "X-Tenant-ID"

// key type biar aman di context (tidak bentrok)
type tenantKey struct{}

var TenantContextKey = tenantKey{}

// Tenant extracts the tenant identifier from the X-Tenant-ID header and
// stages it on the request context. Admin and booking routes require it.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(TenantHeader)
		if tenantID == "" {
			_ = c.Error(errutil.BadRequest("missing X-Tenant-ID header", nil))
			c.Abort()
			return
		}

		ctx := context.WithValue(c.Request.Context(), TenantContextKey, tenantID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// TenantFromContext returns the tenant identifier staged by Tenant, or "".
func TenantFromContext(ctx context.Context) string {
	id, _ := ctx.Value(TenantContextKey).(string)
	return id
}
