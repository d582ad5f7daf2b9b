package auth

import (
	"fmt"
	"time"
)

type Config struct {
	Enabled            bool          `mapstructure:"enabled" yaml:"enabled"`
	TokenIssuer        string        `mapstructure:"token_issuer" yaml:"token_issuer"`
	RefreshTokenSecret string        `mapstructure:"refresh_token_secret" yaml:"-"`
	RefreshTokenExpiry time.Duration `mapstructure:"refresh_token_expiry" yaml:"refresh_token_expiry"`
	AccessTokenSecret  string        `mapstructure:"access_token_secret" yaml:"-"`
	AccessTokenExpiry  time.Duration `mapstructure:"access_token_expiry" yaml:"access_token_expiry"`
	TokenCacheSize     int           `mapstructure:"token_cache_size" yaml:"token_cache_size"`
}

func (c *Config) Validate() error {
	if c.Enabled {
		if c.TokenIssuer == "" {
			return fmt.Errorf("auth `token_issuer` is required when auth is enabled")
		}
		if c.RefreshTokenSecret == "" {
			return fmt.Errorf("auth `refresh_token_secret` is required when auth is enabled")
		}
		if c.AccessTokenSecret == "" {
			return fmt.Errorf("auth `access_token_secret` is required when auth is enabled")
		}
		if c.AccessTokenSecret == c.RefreshTokenSecret {
			return fmt.Errorf("auth `access_token_secret` and `refresh_token_secret` must differ")
		}
		if c.TokenCacheSize < 0 {
			return fmt.Errorf("auth `token_cache_size` must not be negative")
		}
	}
	return nil
}
