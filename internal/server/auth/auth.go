package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultTokenCacheSize = 4096
	tokenCacheTTL         = 5 * time.Minute
)

type AuthService struct {
	config *Config
	// access tokens that already passed signature and type checks
	validated *expirable.LRU[string, *Claims]
}

func NewAuthService(config *Config) *AuthService {
	size := config.TokenCacheSize
	if size == 0 {
		size = defaultTokenCacheSize
	}
	return &AuthService{
		config:    config,
		validated: expirable.NewLRU[string, *Claims](size, nil, tokenCacheTTL),
	}
}

func (s *AuthService) IsEnabled() bool {
	return s.config.Enabled
}

// IssueTokens mints an access/refresh token pair for subject. Used by operators to
// provision uploader identities.
func (s *AuthService) IssueTokens(subject string) (string, string, error) {
	if !s.IsEnabled() {
		return "", "", ErrAuthDisabled
	}
	if subject == "" {
		return "", "", errors.New("token subject is required")
	}

	accessToken, refreshToken, err := generateTokenPair(subject, s.config)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate token pair: %w", err)
	}

	slog.Info("tokens issued", "subject", subject)
	return accessToken, refreshToken, nil
}

func (s *AuthService) RefreshToken(ctx context.Context, oldRefreshToken string) (string, string, error) {
	if !s.IsEnabled() {
		return "", "", ErrAuthDisabled
	}
	if oldRefreshToken == "" {
		return "", "", ErrInvalidRequestToken
	}

	// verify the old refresh token
	claims, err := s.ValidateRefreshToken(ctx, oldRefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to refresh token pair: %w", err)
	}

	accessToken, refreshToken, err := generateTokenPair(claims.Subject, s.config)
	if err != nil {
		return "", "", fmt.Errorf("failed to refresh token pair: %w", err)
	}

	return accessToken, refreshToken, nil
}

func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*Claims, error) {
	if accessToken == "" {
		return nil, ErrInvalidAccessToken
	}

	if claims, ok := s.validated.Get(accessToken); ok {
		if claims.ExpiresAt == nil || claims.ExpiresAt.After(time.Now()) {
			return claims, nil
		}
		s.validated.Remove(accessToken)
	}

	claims, err := ParseClaims(accessToken, s.config.AccessTokenSecret, s.config.TokenIssuer, AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAccessToken, err)
	}

	s.validated.Add(accessToken, claims)
	return claims, nil
}

func (s *AuthService) ValidateRefreshToken(ctx context.Context, refreshToken string) (*Claims, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}

	claims, err := ParseClaims(refreshToken, s.config.RefreshTokenSecret, s.config.TokenIssuer, RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
	}

	return claims, nil
}

func generateTokenPair(subject string, config *Config) (accessToken string, refreshToken string, err error) {
	accessToken, err = newAccessToken(subject, config.TokenIssuer, config.AccessTokenSecret, config.AccessTokenExpiry)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err = newRefreshToken(subject, config.TokenIssuer, config.RefreshTokenSecret, config.RefreshTokenExpiry)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return accessToken, refreshToken, nil
}

func newAccessToken(subject, issuer, jwtSecret string, expiry time.Duration) (string, error) {
	return newToken(subject, issuer, jwtSecret, expiry, AccessToken)
}

func newRefreshToken(subject, issuer, jwtSecret string, expiry time.Duration) (string, error) {
	return newToken(subject, issuer, jwtSecret, expiry, RefreshToken)
}

func newToken(subject, issuer, jwtSecret string, expiry time.Duration, tokenType AuthTokenType) (string, error) {
	var expiryTime *jwt.NumericDate

	if expiry > 0 {
		expiryTime = jwt.NewNumericDate(time.Now().Add(expiry))
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			Issuer:    issuer,
			ExpiresAt: expiryTime,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Type: tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}
