package middleware

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zeh237/taskly/internal/auditctx"
	iauth "github.com/zeh237/taskly/internal/auth"
	"github.com/zeh237/taskly/pkg/errors"
	"github.com/zeh237/taskly/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxAccountIDKey = "accountID"
	CtxSessionIDKey = "sessionID"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !authenticate(c, jwt, token) {
			return
		}
		c.Next()
	}
}

// OptionalAuth authenticates the request when a bearer token is present and lets anonymous
// requests through. A token that is present but invalid is still rejected.
func OptionalAuth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}
		if !authenticate(c, jwt, token) {
			return
		}
		c.Next()
	}
}

// RequireAdmin must run after Auth and rejects accounts without the admin capability.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !claims.Admin {
			response.Error(c, errors.NewForbidden("Administrator privileges are required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// Claims returns the validated token claims stored by Auth or OptionalAuth.
func Claims(c *gin.Context) (*iauth.Claims, bool) {
	value, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*iauth.Claims)
	return claims, ok && claims != nil
}

// AccountID returns the authenticated account id, if any.
func AccountID(c *gin.Context) (uint, bool) {
	id := c.GetUint(CtxAccountIDKey)
	return id, id != 0
}

func bearerToken(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authz[7:])
	return token, token != ""
}

func authenticate(c *gin.Context, jwt *iauth.JWTService, token string) bool {
	claims, err := jwt.ValidateAccessToken(token)
	if err != nil {
		description := "token is invalid"
		if stderrors.Is(err, iauth.ErrTokenExpired) {
			description = "token has expired"
		}
		c.Header("WWW-Authenticate", fmt.Sprintf(`Bearer error="invalid_token", error_description=%q`, description))
		response.Error(c, errors.ErrUnauthorized.WithMessage("Access "+description))
		c.Abort()
		return false
	}

	c.Set(CtxClaimsKey, claims)
	c.Set(CtxAccountIDKey, claims.AccountID)
	if claims.SessionID != "" {
		c.Set(CtxSessionIDKey, claims.SessionID)
	}
	c.Request = c.Request.WithContext(auditctx.WithAccount(c.Request.Context(), claims.AccountID, claims.Email))
	return true
}
