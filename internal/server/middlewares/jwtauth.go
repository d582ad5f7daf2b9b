package middlewares

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dronehq/chunkup/internal/server/auth"
	"github.com/dronehq/chunkup/internal/server/handlers/api"
	"github.com/dronehq/chunkup/internal/server/upload"
)

const (
	bearerPrefix    = "Bearer "
	authHeader      = "Authorization"
	ownerContextKey = "owner" // Key to store the caller identity in Gin context
)

// JWTAuth validates bearer access tokens. The token subject becomes the owner of every
// upload session the request touches. With auth disabled the owner can be supplied in
// the X-Owner-Id header for local development, or is left empty.
func JWTAuth(authService *auth.AuthService) gin.HandlerFunc {
	if !authService.IsEnabled() {
		slog.Info("auth middleware disabled")
		return func(ctx *gin.Context) {
			setOwner(ctx, ctx.GetHeader("X-Owner-Id"))
			ctx.Next()
		}
	}
	slog.Info("auth middleware enabled")
	return func(ctx *gin.Context) {
		authHeaderValue := ctx.GetHeader(authHeader)
		if authHeaderValue == "" {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials,
				errors.New("Authorization header is missing"))
			return
		}

		if !strings.HasPrefix(authHeaderValue, bearerPrefix) {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials,
				errors.New("Authorization header format must be Bearer {token}"))
			return
		}

		tokenString := strings.TrimPrefix(authHeaderValue, bearerPrefix)
		if tokenString == "" {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials,
				errors.New("Token is missing"))
			return
		}

		claims, err := authService.ValidateAccessToken(ctx, tokenString)
		if err != nil {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials, err)
			return
		}

		setOwner(ctx, claims.Subject)
		ctx.Next()
	}
}

func setOwner(ctx *gin.Context, owner string) {
	if owner == "" {
		return
	}
	ctx.Set(ownerContextKey, owner)
	ctx.Request = ctx.Request.WithContext(upload.WithOwner(ctx.Request.Context(), owner))
}

// GetOwner returns the caller identity set by JWTAuth, if any.
func GetOwner(ctx *gin.Context) string {
	return ctx.GetString(ownerContextKey)
}
