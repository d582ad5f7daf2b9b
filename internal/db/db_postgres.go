package db

import (
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

const postgresDriverName = "pgx"

// NewPostgresDB connects to PostgreSQL through the pgx database/sql driver.
// Path and pragma options are ignored.
func NewPostgresDB(dsn string, opts ...Option) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	cfg := &config{
		maxOpenConns: 20,
		maxIdleConns: 5,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	slog.Info("db", "driver", "jackc/pgx")
	db, err := sqlx.Connect(postgresDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	applyPool(db, cfg)
	return db, nil
}
