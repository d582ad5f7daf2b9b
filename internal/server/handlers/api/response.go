package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dronehq/chunkup/internal/server/upload"
)

// Response is the envelope of every API reply.
type Response struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

func OK(ctx *gin.Context, status int, data any) {
	ctx.PureJSON(status, Response{Success: true, Data: data})
}

func Fail(ctx *gin.Context, status int, apiErr *APIError) {
	ctx.PureJSON(status, Response{Success: false, Error: apiErr})
}

func AbortWithError(ctx *gin.Context, status int, code string, err error) {
	ctx.Abort()
	ctx.Error(err)
	Fail(ctx, status, &APIError{
		Code:    code,
		Message: err.Error(),
	})
}

// AbortWithUploadError maps an upload service error onto its HTTP status and API code.
// Internal errors are logged through ctx.Error but their message is not exposed.
func AbortWithUploadError(ctx *gin.Context, err error) {
	status, code := UploadErrorStatus(err)

	apiErr := &APIError{Code: code, Message: err.Error()}
	var uerr *upload.Error
	if errors.As(err, &uerr) {
		apiErr.Message = uerr.Message
		if apiErr.Message == "" {
			apiErr.Message = string(uerr.Kind)
		}
		apiErr.Details = uerr.Details
	}
	if status == http.StatusInternalServerError && code == CodeInternalError {
		apiErr.Message = "internal server error"
	}

	ctx.Abort()
	ctx.Error(err)
	Fail(ctx, status, apiErr)
}

func UploadErrorStatus(err error) (int, string) {
	switch upload.KindOf(err) {
	case upload.KindInvalidArgument:
		return http.StatusBadRequest, CodeInvalidArgument
	case upload.KindNotFound:
		return http.StatusNotFound, CodeUploadNotFound
	case upload.KindIncompleteUpload:
		return http.StatusConflict, CodeIncompleteUpload
	case upload.KindInvalidState:
		return http.StatusConflict, CodeInvalidState
	case upload.KindChecksumMismatch:
		return http.StatusUnprocessableEntity, CodeChecksumMismatch
	case upload.KindIOFailure:
		return http.StatusInternalServerError, CodeIOFailure
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}
