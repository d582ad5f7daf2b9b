package server

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dronehq/chunkup/internal/db"
	"github.com/dronehq/chunkup/internal/server/auth"
	"github.com/dronehq/chunkup/internal/server/upload"
	"github.com/dronehq/chunkup/internal/utils"
)

const (
	DefaultAddr      = "127.0.0.1:8080"
	DefaultRateLimit = "600-M"
)

type Config struct {
	HTTP    HTTPConfig      `mapstructure:"http" yaml:"http"`
	Storage StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Upload  upload.Config   `mapstructure:"upload" yaml:"upload"`
	Auth    auth.Config     `mapstructure:"auth" yaml:"auth"`
	DB      db.Config       `mapstructure:"db" yaml:"db"`
	S3      upload.S3Config `mapstructure:"s3" yaml:"s3"`
	LogDir  string          `mapstructure:"log_dir" yaml:"log_dir"`
}

type HTTPConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	CertFile  string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile   string `mapstructure:"key_file" yaml:"key_file"`
	RateLimit string `mapstructure:"rate_limit" yaml:"rate_limit"` // limiter format, empty disables
}

// StorageConfig holds the two filesystem roots. Both are created at start.
type StorageConfig struct {
	TempDir  string `mapstructure:"temp_dir" yaml:"temp_dir"`
	FinalDir string `mapstructure:"final_dir" yaml:"final_dir"`
}

func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Upload.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.DB.Validate(); err != nil {
		return err
	}
	if err := c.S3.Validate(); err != nil {
		return err
	}
	return nil
}

func (c *HTTPConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("http `addr` is required")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("http `cert_file` and `key_file` must be set together")
	}
	return nil
}

func (c *StorageConfig) Validate() error {
	if c.TempDir == "" {
		return errors.New("storage `temp_dir` is required")
	}
	if c.FinalDir == "" {
		return errors.New("storage `final_dir` is required")
	}

	tempDir, err := utils.ResolvePath(c.TempDir)
	if err != nil {
		return fmt.Errorf("storage `temp_dir`: %w", err)
	}
	finalDir, err := utils.ResolvePath(c.FinalDir)
	if err != nil {
		return fmt.Errorf("storage `final_dir`: %w", err)
	}
	if tempDir == finalDir {
		return errors.New("storage `temp_dir` and `final_dir` must differ")
	}
	if rel, err := filepath.Rel(tempDir, finalDir); err == nil && filepath.IsLocal(rel) {
		return errors.New("storage `final_dir` must not live inside `temp_dir`")
	}
	return nil
}
