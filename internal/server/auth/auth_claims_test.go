package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://uploads.dronehq.io"

func signClaims(t *testing.T, method jwt.SigningMethod, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(tokenType AuthTokenType) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "pilot-7",
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Type: tokenType,
	}
}

func TestParseClaims(t *testing.T) {
	noSubject := validClaims(AccessToken)
	noSubject.Subject = ""
	otherIssuer := validClaims(AccessToken)
	otherIssuer.Issuer = "https://elsewhere"

	tests := []struct {
		name    string
		token   string
		issuer  string
		want    AuthTokenType
		wantErr bool
	}{
		{name: "valid", token: signClaims(t, jwt.SigningMethodHS256, "s", validClaims(AccessToken)), issuer: testIssuer, want: AccessToken},
		{name: "issuer not enforced", token: signClaims(t, jwt.SigningMethodHS256, "s", otherIssuer), want: AccessToken},
		{name: "garbage", token: "invalid.token.string", want: AccessToken, wantErr: true},
		{name: "wrong secret", token: signClaims(t, jwt.SigningMethodHS256, "other", validClaims(AccessToken)), want: AccessToken, wantErr: true},
		{name: "other algorithm", token: signClaims(t, jwt.SigningMethodHS512, "s", validClaims(AccessToken)), want: AccessToken, wantErr: true},
		{name: "wrong type", token: signClaims(t, jwt.SigningMethodHS256, "s", validClaims(RefreshToken)), want: AccessToken, wantErr: true},
		{name: "wrong issuer", token: signClaims(t, jwt.SigningMethodHS256, "s", otherIssuer), issuer: testIssuer, want: AccessToken, wantErr: true},
		{name: "no subject", token: signClaims(t, jwt.SigningMethodHS256, "s", noSubject), want: AccessToken, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseClaims(tt.token, "s", tt.issuer, tt.want)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "pilot-7", claims.Subject)
			assert.Equal(t, tt.want, claims.Type)
		})
	}
}
