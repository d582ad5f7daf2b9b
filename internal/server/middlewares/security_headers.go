package middlewares

import (
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
)

const hstsMaxAge = 2 * 365 * 24 * 60 * 60 // two years, in seconds

// SecurityHeaders sets the API's security headers. With TLS it also sends HSTS
// and redirects plain requests, honouring X-Forwarded-Proto from proxies.
func SecurityHeaders(tls bool) gin.HandlerFunc {
	cfg := secure.Config{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		IENoOpen:              true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	}
	if tls {
		cfg.SSLRedirect = true
		cfg.STSSeconds = hstsMaxAge
		cfg.STSIncludeSubdomains = true
		cfg.SSLProxyHeaders = map[string]string{"X-Forwarded-Proto": "https"}
	}
	return secure.New(cfg)
}
