package api

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST"    // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"       // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"     // internal server error
	CodeNotFound       = "E_NOT_FOUND"          // route not found
	CodeMethodNotAllow = "E_METHOD_NOT_ALLOWED" // method not allowed on route

	// Auth errors
	CodeAuthInvalidCredentials = "E_AUTH_INVALID_CREDENTIALS"  // authentication credentials (e.g., token) are invalid, expired, or malformed.
	CodeAuthTokenRefreshFailed = "E_AUTH_TOKEN_REFRESH_FAILED" // a failure during the attempt to refresh an authentication token.

	// Upload errors
	CodeInvalidArgument  = "E_INVALID_ARGUMENT"  // malformed upload request (sizes, indices, checksum format)
	CodeUploadNotFound   = "E_UPLOAD_NOT_FOUND"  // unknown upload id, or one owned by someone else
	CodeInvalidState     = "E_INVALID_STATE"     // upload is completed or cancelled
	CodeIncompleteUpload = "E_INCOMPLETE_UPLOAD" // complete requested before every chunk arrived
	CodeChecksumMismatch = "E_CHECKSUM_MISMATCH" // chunk payload does not match the supplied checksum
	CodeIOFailure        = "E_IO_FAILURE"        // staging or assembly storage failed
)
