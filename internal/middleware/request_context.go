package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/zeh237/taskly/internal/auditctx"
)

// RequestContext records the caller address and agent on the request context so audit
// entries written further down can attribute the action.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auditctx.WithActor(c.Request.Context(), auditctx.Actor{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
