package upload

import (
	"fmt"

	"github.com/dronehq/chunkup/internal/utils"
)

const (
	DefaultChunkSize    = 5 * 1024 * 1024
	DefaultMaxChunkSize = 64 * 1024 * 1024
	DefaultMaxChunks    = 100_000
)

type Config struct {
	DefaultChunkSize utils.ByteSize `mapstructure:"default_chunk_size" yaml:"default_chunk_size"`
	MaxChunkSize     utils.ByteSize `mapstructure:"max_chunk_size" yaml:"max_chunk_size"`
	MaxFileSize      utils.ByteSize `mapstructure:"max_file_size" yaml:"max_file_size"` // 0 means unlimited
	MaxChunks        int            `mapstructure:"max_chunks" yaml:"max_chunks"`       // 0 means DefaultMaxChunks
}

func DefaultConfig() *Config {
	return &Config{
		DefaultChunkSize: DefaultChunkSize,
		MaxChunkSize:     DefaultMaxChunkSize,
		MaxChunks:        DefaultMaxChunks,
	}
}

func (c *Config) Validate() error {
	if c.DefaultChunkSize <= 0 {
		return fmt.Errorf("upload `default_chunk_size` must be positive")
	}
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("upload `max_chunk_size` must be positive")
	}
	if c.DefaultChunkSize > c.MaxChunkSize {
		return fmt.Errorf("upload `default_chunk_size` (%s) exceeds `max_chunk_size` (%s)", c.DefaultChunkSize, c.MaxChunkSize)
	}
	if c.MaxFileSize < 0 {
		return fmt.Errorf("upload `max_file_size` must not be negative")
	}
	if c.MaxChunks < 0 {
		return fmt.Errorf("upload `max_chunks` must not be negative")
	}
	return nil
}

// ChunkLimit is the largest number of chunks a single upload may be split into.
func (c *Config) ChunkLimit() int {
	if c.MaxChunks == 0 {
		return DefaultMaxChunks
	}
	return c.MaxChunks
}
