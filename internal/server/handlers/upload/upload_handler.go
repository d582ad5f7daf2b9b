package upload

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dronehq/chunkup/internal/server/accesslog"
	"github.com/dronehq/chunkup/internal/server/handlers/api"
	"github.com/dronehq/chunkup/internal/server/upload"
)

const (
	chunkFormField = "chunk"
	// room for the form fields and multipart boundaries around the payload
	multipartOverhead = 64 << 10
)

// Coordinator is the slice of upload.Service the handlers drive.
type Coordinator interface {
	Initiate(ctx context.Context, req *upload.InitiateRequest) (*upload.InitiateResult, error)
	UploadChunk(ctx context.Context, req *upload.ChunkRequest) (*upload.ChunkResult, error)
	Complete(ctx context.Context, uploadID string) (*upload.CompleteResult, error)
	Cancel(ctx context.Context, uploadID string) (*upload.CancelResult, error)
	Status(ctx context.Context, uploadID string) (*upload.StatusResult, error)
	MissingChunks(ctx context.Context, uploadID string) ([]int, error)
}

type UploadHandler struct {
	svc          Coordinator
	maxChunkSize int64
}

// New returns the upload handler. maxChunkSize bounds the request body of chunk uploads.
func New(svc Coordinator, maxChunkSize int64) *UploadHandler {
	return &UploadHandler{
		svc:          svc,
		maxChunkSize: maxChunkSize,
	}
}

func (h *UploadHandler) Initiate(ctx *gin.Context) {
	var req InitiateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidArgument, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	res, err := h.svc.Initiate(ctx.Request.Context(), &upload.InitiateRequest{
		FileName:  req.FileName,
		FileSize:  req.FileSize,
		MimeType:  req.MimeType,
		ChunkSize: req.ChunkSize,
		Metadata:  req.Metadata,
	})
	if err != nil {
		api.AbortWithUploadError(ctx, err)
		return
	}

	accesslog.SetUploadID(ctx, res.UploadID)
	api.OK(ctx, http.StatusOK, res)
}

func (h *UploadHandler) Chunk(ctx *gin.Context) {
	if h.maxChunkSize > 0 {
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, h.maxChunkSize+multipartOverhead)
	}

	var req ChunkRequest
	if err := ctx.ShouldBind(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.AbortWithError(ctx, http.StatusRequestEntityTooLarge, api.CodeInvalidArgument,
				fmt.Errorf("chunk exceeds %d bytes", h.maxChunkSize))
			return
		}
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidArgument, fmt.Errorf("failed to bind form: %w", err))
		return
	}
	accesslog.SetUploadID(ctx, req.UploadID)

	file, err := ctx.FormFile(chunkFormField)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidArgument, fmt.Errorf("chunk payload is required: %w", err))
		return
	}

	fd, err := file.Open()
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidArgument, fmt.Errorf("invalid chunk payload: %w", err))
		return
	}
	defer fd.Close()

	res, err := h.svc.UploadChunk(ctx.Request.Context(), &upload.ChunkRequest{
		UploadID:   req.UploadID,
		ChunkIndex: *req.ChunkIndex,
		Checksum:   req.Checksum,
		Payload:    fd,
	})
	if err != nil {
		api.AbortWithUploadError(ctx, err)
		return
	}

	api.OK(ctx, http.StatusOK, res)
}

func (h *UploadHandler) Complete(ctx *gin.Context) {
	var req SessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidArgument, fmt.Errorf("failed to bind json: %w", err))
		return
	}
	accesslog.SetUploadID(ctx, req.UploadID)

	res, err := h.svc.Complete(ctx.Request.Context(), req.UploadID)
	if err != nil {
		api.AbortWithUploadError(ctx, err)
		return
	}

	api.OK(ctx, http.StatusOK, res)
}

func (h *UploadHandler) Cancel(ctx *gin.Context) {
	var req SessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidArgument, fmt.Errorf("failed to bind json: %w", err))
		return
	}
	accesslog.SetUploadID(ctx, req.UploadID)

	res, err := h.svc.Cancel(ctx.Request.Context(), req.UploadID)
	if err != nil {
		api.AbortWithUploadError(ctx, err)
		return
	}

	api.OK(ctx, http.StatusOK, res)
}

func (h *UploadHandler) Status(ctx *gin.Context) {
	var uri SessionURI
	if err := ctx.ShouldBindUri(&uri); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidArgument, fmt.Errorf("failed to bind uri: %w", err))
		return
	}

	res, err := h.svc.Status(ctx.Request.Context(), uri.UploadID)
	if err != nil {
		api.AbortWithUploadError(ctx, err)
		return
	}

	api.OK(ctx, http.StatusOK, res)
}

func (h *UploadHandler) Missing(ctx *gin.Context) {
	var uri SessionURI
	if err := ctx.ShouldBindUri(&uri); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidArgument, fmt.Errorf("failed to bind uri: %w", err))
		return
	}

	missing, err := h.svc.MissingChunks(ctx.Request.Context(), uri.UploadID)
	if err != nil {
		api.AbortWithUploadError(ctx, err)
		return
	}
	if missing == nil {
		missing = []int{}
	}

	api.OK(ctx, http.StatusOK, &MissingResponse{
		UploadID:      uri.UploadID,
		MissingChunks: missing,
	})
}
