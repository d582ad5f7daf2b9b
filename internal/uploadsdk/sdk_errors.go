package uploadsdk

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL    = errors.New("sdk: server url missing")
	ErrNoRefreshToken = errors.New("sdk: refresh token missing")
	ErrNoFile         = errors.New("sdk: file path missing")
	ErrEmptyFile      = errors.New("sdk: file is empty")
)

const (
	CodeInvalidArgument        = "E_INVALID_ARGUMENT"
	CodeUploadNotFound         = "E_UPLOAD_NOT_FOUND"
	CodeInvalidState           = "E_INVALID_STATE"
	CodeIncompleteUpload       = "E_INCOMPLETE_UPLOAD"
	CodeChecksumMismatch       = "E_CHECKSUM_MISMATCH"
	CodeIOFailure              = "E_IO_FAILURE"
	CodeRateLimited            = "E_RATE_LIMITED"
	CodeAuthInvalidCredentials = "E_AUTH_INVALID_CREDENTIALS"
	CodeAuthTokenRefreshFailed = "E_AUTH_TOKEN_REFRESH_FAILED"
)

// APIError is the error object of a failed API envelope.
type APIError struct {
	StatusCode int            `json:"-"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// HasCode reports whether err is an APIError carrying code.
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// handleAPIError turns a transport failure or an error envelope into an error.
func handleAPIError[T any](resp *req.Response, env *envelope[T], requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}

	if resp.IsErrorState() || !env.Success {
		if env.Error != nil {
			env.Error.StatusCode = resp.StatusCode
			return fmt.Errorf("%s: %w", operation, env.Error)
		}
		return fmt.Errorf("api error: %s: unexpected status %d", operation, resp.StatusCode)
	}

	return nil
}
