package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/zeh237/taskly/internal/auth"
	"github.com/zeh237/taskly/internal/middleware"
	"github.com/zeh237/taskly/pkg/errors"
	"github.com/zeh237/taskly/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// requireAccountID returns the authenticated account or writes a 401.
func requireAccountID(c *gin.Context) (uint, bool) {
	id, ok := middleware.AccountID(c)
	if !ok || id == 0 {
		response.Error(c, errors.ErrUnauthorized)
		return 0, false
	}
	return id, true
}

// uintParam parses a positive numeric path parameter. Malformed ids are reported as not
// found so routes do not leak which ids exist.
func uintParam(c *gin.Context, name string) (uint, bool) {
	raw := strings.TrimSpace(c.Param(name))
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || value == 0 {
		response.Error(c, errors.NewNotFound("Resource not found"))
		return 0, false
	}
	return uint(value), true
}

func sessionMetadata(c *gin.Context) iauth.SessionMetadata {
	meta := iauth.SessionMetadata{IPAddress: c.ClientIP()}
	if c.Request != nil {
		meta.UserAgent = c.Request.UserAgent()
	}
	return meta
}
