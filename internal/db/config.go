package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"` // sqlite only
	DSN    string `mapstructure:"dsn" yaml:"-"`     // postgres only
}

func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSqlite:
		if c.Path == "" {
			return fmt.Errorf("db `path` is required for sqlite")
		}
	case DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("db `dsn` is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported db driver %q", c.Driver)
	}
	return nil
}

// Open connects to the database described by cfg.
func Open(cfg *Config, opts ...Option) (*sqlx.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Driver == DriverPostgres {
		return NewPostgresDB(cfg.DSN, opts...)
	}
	return NewSqliteDB(append([]Option{WithPath(cfg.Path)}, opts...)...)
}
