package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	"github.com/dronehq/chunkup/internal/db"
	"github.com/dronehq/chunkup/internal/server/accesslog"
	"github.com/dronehq/chunkup/internal/server/auth"
	"github.com/dronehq/chunkup/internal/server/upload"
	"github.com/dronehq/chunkup/internal/utils"
)

type Services struct {
	Upload    *upload.Service
	Auth      *auth.AuthService
	Store     *upload.ChunkStore
	AccessLog *accesslog.AccessLogger // nil without a log dir
}

// OpenServices connects to the configured database and builds the services on top of it.
func OpenServices(ctx context.Context, config *Config) (*Services, error) {
	if config.DB.Driver == db.DriverSqlite {
		if err := utils.EnsureParent(config.DB.Path); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	database, err := db.Open(&config.DB)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	svc, err := NewServices(ctx, config, database)
	if err != nil {
		database.Close()
		return nil, err
	}
	return svc, nil
}

func NewServices(ctx context.Context, config *Config, database *sqlx.DB) (*Services, error) {
	repo, err := upload.NewSQLRepository(database)
	if err != nil {
		return nil, fmt.Errorf("create upload repository: %w", err)
	}

	store, err := upload.NewChunkStore(config.Storage.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create chunk store: %w", err)
	}

	assembler, err := upload.NewAssembler(store, config.Storage.FinalDir)
	if err != nil {
		return nil, fmt.Errorf("create assembler: %w", err)
	}

	var opts []upload.ServiceOption
	if config.S3.Enabled {
		publisher, err := upload.NewS3PublisherWithConfig(ctx, &config.S3)
		if err != nil {
			return nil, fmt.Errorf("create s3 publisher: %w", err)
		}
		slog.Info("s3 mirror enabled",
			"bucket", config.S3.BucketName,
			"prefix", config.S3.Prefix,
			"endpoint", config.S3.Endpoint,
			"accessKey", utils.MaskSecret(config.S3.AccessKey),
		)
		opts = append(opts, upload.WithPublisher(publisher))
	}

	uploadSvc, err := upload.NewService(&config.Upload, repo, store, assembler, opts...)
	if err != nil {
		return nil, fmt.Errorf("create upload service: %w", err)
	}

	var accessLog *accesslog.AccessLogger
	if config.LogDir != "" {
		accessLog, err = accesslog.New(filepath.Join(config.LogDir, "access"), slog.Default())
		if err != nil {
			uploadSvc.Shutdown(ctx)
			return nil, fmt.Errorf("create access log: %w", err)
		}
	}

	return &Services{
		Upload:    uploadSvc,
		Auth:      auth.NewAuthService(&config.Auth),
		Store:     store,
		AccessLog: accessLog,
	}, nil
}

func (s *Services) Shutdown(ctx context.Context) error {
	if s.AccessLog != nil {
		s.AccessLog.Close()
	}
	if err := s.Upload.Shutdown(ctx); err != nil {
		return fmt.Errorf("stop upload service: %w", err)
	}
	return nil
}
