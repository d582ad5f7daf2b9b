package accesslog

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dronehq/chunkup/internal/server/handlers/api"
	"github.com/dronehq/chunkup/internal/server/upload"
)

const (
	uploadIDKey  = "accesslog.uploadId"
	defaultLimit = 100
)

// SetUploadID tags the current request with the upload it acted on.
func SetUploadID(ctx *gin.Context, uploadID string) {
	ctx.Set(uploadIDKey, uploadID)
}

// Middleware records every request of the group once its handler returns.
func Middleware(al *AccessLogger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		uploadID := ctx.GetString(uploadIDKey)
		if uploadID == "" {
			uploadID = ctx.Param("uploadId")
		}

		al.Log(Entry{
			Timestamp:  start,
			Owner:      upload.OwnerFromContext(ctx.Request.Context()),
			Action:     actionName(ctx.FullPath()),
			UploadID:   uploadID,
			Method:     ctx.Request.Method,
			Path:       ctx.Request.URL.Path,
			IP:         ctx.ClientIP(),
			UserAgent:  ctx.Request.UserAgent(),
			StatusCode: ctx.Writer.Status(),
			Bytes:      ctx.Request.ContentLength,
			LatencyMs:  time.Since(start).Milliseconds(),
		})
	}
}

// RecentHandler returns the caller's latest activity entries. ?limit= caps the count.
func RecentHandler(al *AccessLogger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		limit := defaultLimit
		if raw := ctx.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				api.Fail(ctx, http.StatusBadRequest, &api.APIError{
					Code:    api.CodeInvalidArgument,
					Message: "limit must be a positive integer",
				})
				return
			}
			limit = n
		}

		entries, err := al.Recent(upload.OwnerFromContext(ctx.Request.Context()), limit)
		if err != nil {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
			return
		}
		api.OK(ctx, http.StatusOK, gin.H{"entries": entries})
	}
}

// actionName is the last static segment of a route, "/upload/status/:uploadId" gives "status".
func actionName(route string) string {
	segments := strings.Split(strings.Trim(route, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if s := segments[i]; s != "" && s[0] != ':' && s[0] != '*' {
			return s
		}
	}
	return "unknown"
}
