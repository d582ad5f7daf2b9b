package auth

// RefreshRequest exchanges a refresh token for a new token pair.
type RefreshRequest struct {
	OldRefreshToken string `json:"refreshToken" binding:"required"`
}

type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
