// Package ginrls adapts the row-level security middleware to gin.
package ginrls

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/syssam/rls/rlshttp"
)

// Middleware returns a gin handler applying the request's security context
// before the rest of the chain runs. It reuses the net/http middleware core:
// the pinned connection is available through rlshttp.ConnFromContext on the
// request context.
func Middleware(m *rlshttp.Middleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, release, err := m.Begin(c.Request)
		if err != nil {
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		defer release()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
