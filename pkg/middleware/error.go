package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"slotwise-platform/pkg/errutil"
)

// Error renders the last error pushed onto the gin context as a JSON body
// keyed by the domain error code.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var base errutil.BaseError
		if errors.As(last.Err, &base) {
			c.JSON(base.Code.HTTPStatus(), base.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, errutil.BaseError{
			Code:    errutil.StatusInternal,
			Message: "internal error",
		}.JSON())
	}
}
