package uploadsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/imroc/req/v3"
	"github.com/minio/sha256-simd"

	"github.com/dronehq/chunkup/internal/utils"
	"github.com/dronehq/chunkup/internal/version"
)

const (
	HeaderVersion  = "X-Chunkup-Version"
	HeaderDeviceID = "X-Chunkup-Device-Id"
	HeaderOwnerID  = "X-Owner-Id"

	pathInitiate = "/upload/initiate"
	pathChunk    = "/upload/chunk"
	pathComplete = "/upload/complete"
	pathCancel   = "/upload/cancel"
	pathStatus   = "/upload/status/{uploadId}"
	pathMissing  = "/upload/missing/{uploadId}"
	pathRefresh  = "/auth/refresh"

	defaultRetries = 3
	// refresh access tokens this long before they expire
	tokenExpiryLeeway = 30 * time.Second
)

var UserAgent = fmt.Sprintf("chunkup/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

type Config struct {
	ServerURL    string
	AccessToken  string
	RefreshToken string
	// OwnerID is sent as X-Owner-Id; servers only honour it with auth disabled
	OwnerID string
	// Retries defaults to 3, a negative value disables retrying
	Retries int
}

// Client talks to the chunkup upload API. It is safe for concurrent use.
type Client struct {
	client *req.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

func New(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.ServerURL == "" {
		return nil, ErrNoServerURL
	}
	baseURL, err := utils.NormalizeBaseURL(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoServerURL, err)
	}

	retries := cfg.Retries
	switch {
	case retries == 0:
		retries = defaultRetries
	case retries < 0:
		retries = 0
	}

	client := req.C().
		SetBaseURL(baseURL).
		SetUserAgent(UserAgent).
		SetCommonHeader(HeaderVersion, version.Version).
		SetCommonHeader(HeaderDeviceID, deviceID()).
		SetCommonRetryCount(retries).
		SetCommonRetryBackoffInterval(250*time.Millisecond, 5*time.Second).
		SetCommonRetryCondition(shouldRetry).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)
	if cfg.OwnerID != "" {
		client.SetCommonHeader(HeaderOwnerID, cfg.OwnerID)
	}

	return &Client{
		client:       client,
		accessToken:  cfg.AccessToken,
		refreshToken: cfg.RefreshToken,
	}, nil
}

// every upload endpoint is idempotent, so transient failures are always retried
func shouldRetry(resp *req.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func deviceID() string {
	id, err := machineid.ProtectedID(version.AppName)
	if err != nil {
		return "unknown"
	}
	return id
}

func (c *Client) Initiate(ctx context.Context, in *InitiateRequest) (*InitiateResponse, error) {
	var env envelope[InitiateResponse]
	r, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := r.SetBody(in).
		SetSuccessResult(&env).
		SetErrorResult(&env).
		Post(pathInitiate)
	if err := handleAPIError(resp, &env, err, "upload initiate"); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// UploadChunk sends one chunk together with its sha256 checksum.
func (c *Client) UploadChunk(ctx context.Context, uploadID string, index int, payload []byte) (*ChunkResponse, error) {
	sum := sha256.Sum256(payload)

	var env envelope[ChunkResponse]
	r, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := r.SetFormData(map[string]string{
		"uploadId":   uploadID,
		"chunkIndex": strconv.Itoa(index),
		"checksum":   fmt.Sprintf("sha256:%x", sum),
	}).
		SetFileBytes("chunk", fmt.Sprintf("chunk_%d", index), payload).
		SetSuccessResult(&env).
		SetErrorResult(&env).
		Post(pathChunk)
	if err := handleAPIError(resp, &env, err, fmt.Sprintf("upload chunk %d", index)); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

func (c *Client) Complete(ctx context.Context, uploadID string) (*CompleteResponse, error) {
	var env envelope[CompleteResponse]
	r, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := r.SetBody(map[string]string{"uploadId": uploadID}).
		SetSuccessResult(&env).
		SetErrorResult(&env).
		Post(pathComplete)
	if err := handleAPIError(resp, &env, err, "upload complete"); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

func (c *Client) Cancel(ctx context.Context, uploadID string) (*CancelResponse, error) {
	var env envelope[CancelResponse]
	r, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := r.SetBody(map[string]string{"uploadId": uploadID}).
		SetSuccessResult(&env).
		SetErrorResult(&env).
		Post(pathCancel)
	if err := handleAPIError(resp, &env, err, "upload cancel"); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

func (c *Client) Status(ctx context.Context, uploadID string) (*StatusResponse, error) {
	var env envelope[StatusResponse]
	r, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := r.SetPathParam("uploadId", uploadID).
		SetSuccessResult(&env).
		SetErrorResult(&env).
		Get(pathStatus)
	if err := handleAPIError(resp, &env, err, "upload status"); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// Missing returns the chunk indices the server has not stored yet.
func (c *Client) Missing(ctx context.Context, uploadID string) ([]int, error) {
	var env envelope[missingResponse]
	r, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := r.SetPathParam("uploadId", uploadID).
		SetSuccessResult(&env).
		SetErrorResult(&env).
		Get(pathMissing)
	if err := handleAPIError(resp, &env, err, "upload missing"); err != nil {
		return nil, err
	}
	return env.Data.MissingChunks, nil
}

// Refresh exchanges the refresh token for a new token pair and keeps it for later calls.
func (c *Client) Refresh(ctx context.Context) (*TokenResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Client) refreshLocked(ctx context.Context) (*TokenResponse, error) {
	if c.refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	var env envelope[TokenResponse]
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&refreshRequest{RefreshToken: c.refreshToken}).
		SetSuccessResult(&env).
		SetErrorResult(&env).
		Post(pathRefresh)
	if err := handleAPIError(resp, &env, err, "auth refresh"); err != nil {
		return nil, err
	}

	c.accessToken = env.Data.AccessToken
	c.refreshToken = env.Data.RefreshToken
	return &env.Data, nil
}

// Tokens returns the current token pair, which changes after a refresh.
func (c *Client) Tokens() (access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, c.refreshToken
}

// request prepares an authenticated request, refreshing the access token when it
// is missing or about to expire.
func (c *Client) request(ctx context.Context) (*req.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refreshToken != "" && tokenExpiring(c.accessToken) {
		if _, err := c.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}

	r := c.client.R().SetContext(ctx)
	if c.accessToken != "" {
		r.SetBearerAuthToken(c.accessToken)
	}
	return r, nil
}

func tokenExpiring(token string) bool {
	if token == "" {
		return true
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return time.Until(claims.ExpiresAt.Time) < tokenExpiryLeeway
}
