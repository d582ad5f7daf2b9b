package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// IsValidURL reports whether raw is an absolute http(s) URL with a host.
func IsValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// NormalizeBaseURL validates a server base URL and strips any trailing slash.
func NormalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !IsValidURL(raw) {
		return "", fmt.Errorf("invalid url %q: expected http(s)://host[:port]", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}
