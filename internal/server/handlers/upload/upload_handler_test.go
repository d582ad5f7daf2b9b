package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dronehq/chunkup/internal/server/handlers/api"
	"github.com/dronehq/chunkup/internal/server/upload"
)

type MockCoordinator struct {
	mock.Mock
}

func (m *MockCoordinator) Initiate(ctx context.Context, req *upload.InitiateRequest) (*upload.InitiateResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*upload.InitiateResult), args.Error(1)
}

func (m *MockCoordinator) UploadChunk(ctx context.Context, req *upload.ChunkRequest) (*upload.ChunkResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*upload.ChunkResult), args.Error(1)
}

func (m *MockCoordinator) Complete(ctx context.Context, uploadID string) (*upload.CompleteResult, error) {
	args := m.Called(ctx, uploadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*upload.CompleteResult), args.Error(1)
}

func (m *MockCoordinator) Cancel(ctx context.Context, uploadID string) (*upload.CancelResult, error) {
	args := m.Called(ctx, uploadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*upload.CancelResult), args.Error(1)
}

func (m *MockCoordinator) Status(ctx context.Context, uploadID string) (*upload.StatusResult, error) {
	args := m.Called(ctx, uploadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*upload.StatusResult), args.Error(1)
}

func (m *MockCoordinator) MissingChunks(ctx context.Context, uploadID string) ([]int, error) {
	args := m.Called(ctx, uploadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int), args.Error(1)
}

func setupRouter(svc Coordinator, maxChunkSize int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(svc, maxChunkSize)
	r := gin.New()
	g := r.Group("/upload")
	g.POST("/initiate", h.Initiate)
	g.POST("/chunk", h.Chunk)
	g.POST("/complete", h.Complete)
	g.POST("/cancel", h.Cancel)
	g.GET("/status/:uploadId", h.Status)
	g.GET("/missing/:uploadId", h.Missing)
	return r
}

func jsonRequest(method, url, body string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func chunkForm(t *testing.T, fields map[string]string, payload []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if payload != nil {
		part, err := w.CreateFormFile(chunkFormField, "chunk.bin")
		require.NoError(t, err)
		_, err = part.Write(payload)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload/chunk", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) api.Response {
	t.Helper()
	var raw struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *api.APIError   `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return api.Response{Success: raw.Success, Error: raw.Error}
}

func TestUploadHandler_Initiate(t *testing.T) {
	svc := &MockCoordinator{}
	svc.On("Initiate", mock.Anything, mock.MatchedBy(func(req *upload.InitiateRequest) bool {
		return req.FileName == "survey.tif" && req.FileSize == 12<<20 && req.ChunkSize == 5<<20 &&
			req.Metadata["mission"] == "m-17"
	})).Return(&upload.InitiateResult{UploadID: "u1", ChunkSize: 5 << 20, TotalChunks: 3}, nil)

	r := setupRouter(svc, 0)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodPost, "/upload/initiate",
		`{"fileName":"survey.tif","fileSize":12582912,"chunkSize":5242880,"metadata":{"mission":"m-17"}}`))

	assert.Equal(t, http.StatusOK, w.Code)
	var res upload.InitiateResult
	env := decode(t, w, &res)
	assert.True(t, env.Success)
	assert.Equal(t, "u1", res.UploadID)
	assert.Equal(t, 3, res.TotalChunks)
	svc.AssertExpectations(t)
}

func TestUploadHandler_Initiate_BadJSON(t *testing.T) {
	svc := &MockCoordinator{}
	r := setupRouter(svc, 0)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodPost, "/upload/initiate", `{"fileName":`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w, nil)
	assert.False(t, env.Success)
	assert.Equal(t, api.CodeInvalidArgument, env.Error.Code)
	svc.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything)
}

func TestUploadHandler_Initiate_ServiceError(t *testing.T) {
	svc := &MockCoordinator{}
	svc.On("Initiate", mock.Anything, mock.Anything).
		Return(nil, &upload.Error{Kind: upload.KindInvalidArgument, Message: "fileSize must be positive, got 0"})

	r := setupRouter(svc, 0)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodPost, "/upload/initiate", `{"fileName":"a.bin","fileSize":0}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w, nil)
	assert.Equal(t, api.CodeInvalidArgument, env.Error.Code)
	assert.Equal(t, "fileSize must be positive, got 0", env.Error.Message)
}

func TestUploadHandler_Chunk(t *testing.T) {
	payload := []byte("chunk-bytes")
	svc := &MockCoordinator{}
	var received []byte
	svc.On("UploadChunk", mock.Anything, mock.MatchedBy(func(req *upload.ChunkRequest) bool {
		if received == nil {
			received, _ = io.ReadAll(req.Payload)
		}
		return req.UploadID == "u1" && req.ChunkIndex == 2 && req.Checksum == "md5:abc"
	})).Return(&upload.ChunkResult{ChunkIndex: 2, UploadedChunks: 1, TotalChunks: 3, Progress: 33.3}, nil)

	r := setupRouter(svc, 1<<20)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, chunkForm(t, map[string]string{
		"uploadId":   "u1",
		"chunkIndex": "2",
		"checksum":   "md5:abc",
	}, payload))

	assert.Equal(t, http.StatusOK, w.Code)
	var res upload.ChunkResult
	env := decode(t, w, &res)
	assert.True(t, env.Success)
	assert.Equal(t, 2, res.ChunkIndex)
	assert.False(t, res.AlreadyUploaded)
	assert.Equal(t, payload, received)
	svc.AssertExpectations(t)
}

func TestUploadHandler_Chunk_IndexZero(t *testing.T) {
	svc := &MockCoordinator{}
	svc.On("UploadChunk", mock.Anything, mock.MatchedBy(func(req *upload.ChunkRequest) bool {
		return req.ChunkIndex == 0
	})).Return(&upload.ChunkResult{ChunkIndex: 0, UploadedChunks: 1, TotalChunks: 1, Progress: 100}, nil)

	r := setupRouter(svc, 0)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, chunkForm(t, map[string]string{"uploadId": "u1", "chunkIndex": "0"}, []byte("x")))

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestUploadHandler_Chunk_Validation(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]string
		payload []byte
	}{
		{name: "missing upload id", fields: map[string]string{"chunkIndex": "0"}, payload: []byte("x")},
		{name: "missing index", fields: map[string]string{"uploadId": "u1"}, payload: []byte("x")},
		{name: "negative index", fields: map[string]string{"uploadId": "u1", "chunkIndex": "-1"}, payload: []byte("x")},
		{name: "non numeric index", fields: map[string]string{"uploadId": "u1", "chunkIndex": "two"}, payload: []byte("x")},
		{name: "missing payload", fields: map[string]string{"uploadId": "u1", "chunkIndex": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockCoordinator{}
			r := setupRouter(svc, 0)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, chunkForm(t, tt.fields, tt.payload))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			env := decode(t, w, nil)
			assert.Equal(t, api.CodeInvalidArgument, env.Error.Code)
			svc.AssertNotCalled(t, "UploadChunk", mock.Anything, mock.Anything)
		})
	}
}

func TestUploadHandler_Chunk_TooLarge(t *testing.T) {
	svc := &MockCoordinator{}
	r := setupRouter(svc, 16)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, chunkForm(t, map[string]string{"uploadId": "u1", "chunkIndex": "0"},
		bytes.Repeat([]byte("x"), multipartOverhead+1024)))

	// multipart parsing may surface the limit as a plain read error
	assert.Contains(t, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest}, w.Code)
	svc.AssertNotCalled(t, "UploadChunk", mock.Anything, mock.Anything)
}

func TestUploadHandler_Chunk_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"checksum mismatch", &upload.Error{Kind: upload.KindChecksumMismatch, Message: "chunk 0 does not match"}, http.StatusUnprocessableEntity, api.CodeChecksumMismatch},
		{"not found", &upload.Error{Kind: upload.KindNotFound, Message: "upload u1 not found"}, http.StatusNotFound, api.CodeUploadNotFound},
		{"terminal session", &upload.Error{Kind: upload.KindInvalidState, Message: "upload u1 is cancelled"}, http.StatusConflict, api.CodeInvalidState},
		{"io failure", &upload.Error{Kind: upload.KindIOFailure, Message: "store chunk 0"}, http.StatusInternalServerError, api.CodeIOFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockCoordinator{}
			svc.On("UploadChunk", mock.Anything, mock.Anything).Return(nil, tt.err)

			r := setupRouter(svc, 0)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, chunkForm(t, map[string]string{"uploadId": "u1", "chunkIndex": "0"}, []byte("x")))

			assert.Equal(t, tt.wantStatus, w.Code)
			env := decode(t, w, nil)
			assert.False(t, env.Success)
			assert.Equal(t, tt.wantCode, env.Error.Code)
		})
	}
}

func TestUploadHandler_Complete(t *testing.T) {
	svc := &MockCoordinator{}
	svc.On("Complete", mock.Anything, "u1").
		Return(&upload.CompleteResult{FileName: "survey.tif", FinalPath: "/final/u1/survey.tif", FileSize: 42}, nil)

	r := setupRouter(svc, 0)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodPost, "/upload/complete", `{"uploadId":"u1"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	var res upload.CompleteResult
	decode(t, w, &res)
	assert.Equal(t, "/final/u1/survey.tif", res.FinalPath)
	assert.EqualValues(t, 42, res.FileSize)
	svc.AssertExpectations(t)
}

func TestUploadHandler_Complete_Incomplete(t *testing.T) {
	svc := &MockCoordinator{}
	svc.On("Complete", mock.Anything, "u1").Return(nil, &upload.Error{
		Kind:    upload.KindIncompleteUpload,
		Message: "upload u1 is missing 1 of 3 chunks",
		Details: map[string]any{"missing": []int{1}},
	})

	r := setupRouter(svc, 0)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodPost, "/upload/complete", `{"uploadId":"u1"}`))

	assert.Equal(t, http.StatusConflict, w.Code)
	env := decode(t, w, nil)
	assert.Equal(t, api.CodeIncompleteUpload, env.Error.Code)
	assert.Equal(t, []any{float64(1)}, env.Error.Details["missing"])
}

func TestUploadHandler_Complete_MissingUploadID(t *testing.T) {
	svc := &MockCoordinator{}
	r := setupRouter(svc, 0)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodPost, "/upload/complete", `{}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestUploadHandler_Cancel(t *testing.T) {
	svc := &MockCoordinator{}
	svc.On("Cancel", mock.Anything, "u1").Return(&upload.CancelResult{Status: upload.StatusCancelled}, nil)

	r := setupRouter(svc, 0)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodPost, "/upload/cancel", `{"uploadId":"u1"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	var res upload.CancelResult
	decode(t, w, &res)
	assert.Equal(t, upload.StatusCancelled, res.Status)
}

func TestUploadHandler_Status(t *testing.T) {
	svc := &MockCoordinator{}
	svc.On("Status", mock.Anything, "u1").Return(&upload.StatusResult{
		Session: &upload.Session{
			UploadID:       "u1",
			FileName:       "survey.tif",
			TotalChunks:    4,
			UploadedChunks: 1,
			Status:         upload.StatusUploading,
			TempPath:       "/var/lib/chunkup/staging/u1",
		},
		Progress: 25,
	}, nil)

	r := setupRouter(svc, 0)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/upload/status/u1", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var res map[string]any
	decode(t, w, &res)
	assert.Equal(t, "u1", res["uploadId"])
	assert.Equal(t, "uploading", res["status"])
	assert.EqualValues(t, 25, res["progress"])
	assert.NotContains(t, res, "tempPath")
	assert.NotContains(t, w.Body.String(), "/var/lib/chunkup/staging")
}

func TestUploadHandler_Missing(t *testing.T) {
	svc := &MockCoordinator{}
	svc.On("MissingChunks", mock.Anything, "u1").Return([]int{0, 2}, nil)
	svc.On("MissingChunks", mock.Anything, "done").Return([]int(nil), nil)

	r := setupRouter(svc, 0)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/upload/missing/u1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	var res MissingResponse
	decode(t, w, &res)
	assert.Equal(t, "u1", res.UploadID)
	assert.Equal(t, []int{0, 2}, res.MissingChunks)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/upload/missing/done", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"missingChunks":[]`)
}
