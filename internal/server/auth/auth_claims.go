package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type AuthTokenType string

const (
	AccessToken  AuthTokenType = "access"
	RefreshToken AuthTokenType = "refresh"
)

var errMissingSubject = errors.New("missing subject")

// Claims are the JWT claims of chunkup tokens. Subject is the owner id of every
// upload session created with the token.
type Claims struct {
	Type AuthTokenType `json:"type"`
	jwt.RegisteredClaims
}

// ParseClaims verifies an HS256 token of the wanted type. The issuer is checked when set.
func ParseClaims(tokenString, secret, issuer string, want AuthTokenType) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...); err != nil {
		return nil, err
	}

	if claims.Type != want {
		return nil, fmt.Errorf("wrong token type got %q", claims.Type)
	}
	if claims.Subject == "" {
		return nil, errMissingSubject
	}
	return claims, nil
}
