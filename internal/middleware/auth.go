package middleware

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/pkg/errcode"
	"github.com/parlorhq/parlor/pkg/jwt"
	"github.com/parlorhq/parlor/pkg/response"
)

const (
	// AuthorizationHeader is the header key for authorization
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer token
	BearerPrefix = "Bearer "
	// UserIdKey is the context key for user Id
	UserIdKey = "user_id"
	// TenantIdKey is the context key for tenant Id
	TenantIdKey = "tenant_id"
	// PlatformIdKey is the context key for platform Id
	PlatformIdKey = "platform_id"
)

// JWTAuth is the JWT authentication middleware. The tenant claim stamped at
// login is the only tenant identity a request ever gets.
func JWTAuth() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		authHeader := string(c.GetHeader(AuthorizationHeader))
		if authHeader == "" {
			response.ErrorWithCode(ctx, c, errcode.ErrTokenMissing)
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, BearerPrefix) {
			response.ErrorWithCode(ctx, c, errcode.ErrTokenInvalid)
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, BearerPrefix)
		claims, err := jwt.ParseToken(tokenString, config.GlobalConfig.JWT.Secret)
		if err != nil {
			response.ErrorWithCode(ctx, c, errcode.ErrTokenInvalid)
			c.Abort()
			return
		}

		// Store identity in context
		c.Set(UserIdKey, claims.UserId)
		c.Set(TenantIdKey, claims.TenantId)
		c.Set(PlatformIdKey, claims.PlatformId)

		c.Next(ctx)
	}
}

// GetUserId gets user Id from context
func GetUserId(c *app.RequestContext) string {
	if v, ok := c.Get(UserIdKey); ok {
		return v.(string)
	}
	return ""
}

// GetTenantId gets tenant Id from context
func GetTenantId(c *app.RequestContext) string {
	if v, ok := c.Get(TenantIdKey); ok {
		return v.(string)
	}
	return ""
}

// GetPlatformId gets platform Id from context
func GetPlatformId(c *app.RequestContext) int {
	if v, ok := c.Get(PlatformIdKey); ok {
		return v.(int)
	}
	return 0
}
