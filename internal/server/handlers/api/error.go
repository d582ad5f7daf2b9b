package api

import "fmt"

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chunkup api error: code=%s, message=%s", e.Code, e.Message)
}
