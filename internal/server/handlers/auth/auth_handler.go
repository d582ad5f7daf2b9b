package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dronehq/chunkup/internal/server/auth"
	"github.com/dronehq/chunkup/internal/server/handlers/api"
)

type AuthHandler struct {
	auth *auth.AuthService
}

func New(auth *auth.AuthService) *AuthHandler {
	return &AuthHandler{
		auth: auth,
	}
}

func (h *AuthHandler) Refresh(ctx *gin.Context) {
	var req RefreshRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	accessToken, refreshToken, err := h.auth.RefreshToken(ctx.Request.Context(), req.OldRefreshToken)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrAuthDisabled) {
			status = http.StatusNotFound
		}
		api.AbortWithError(ctx, status, api.CodeAuthTokenRefreshFailed, err)
		return
	}

	api.OK(ctx, http.StatusOK, &RefreshResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}
