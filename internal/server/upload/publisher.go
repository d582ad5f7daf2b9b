package upload

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dronehq/chunkup/internal/utils"
)

// Publisher mirrors an assembled artifact somewhere beyond the final storage root.
type Publisher interface {
	Publish(ctx context.Context, s *Session, finalPath string) error
}

type S3Config struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	BucketName string `mapstructure:"bucket_name" yaml:"bucket_name"`
	Prefix     string `mapstructure:"prefix" yaml:"prefix"`
	Region     string `mapstructure:"region" yaml:"region"`
	AccessKey  string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey  string `mapstructure:"secret_key" yaml:"-"`
	Endpoint   string `mapstructure:"endpoint" yaml:"endpoint"`
}

func (c *S3Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.BucketName == "" {
		return fmt.Errorf("s3 `bucket_name` required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 `region` required")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("s3 `access_key` required")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("s3 `secret_key` required")
	}
	if c.Endpoint != "" && !utils.IsValidURL(c.Endpoint) {
		return fmt.Errorf("invalid s3 endpoint URL %q", c.Endpoint)
	}
	return nil
}

// S3Publisher uploads completed artifacts to an S3 compatible bucket under
// <prefix>/<uploadId>/<fileName>.
type S3Publisher struct {
	uploader *manager.Uploader
	config   *S3Config
}

func NewS3Publisher(client *s3.Client, cfg *S3Config) *S3Publisher {
	return &S3Publisher{
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = 16 * 1024 * 1024
			u.Concurrency = 4
		}),
		config: cfg,
	}
}

func NewS3PublisherWithConfig(ctx context.Context, cfg *S3Config) (*S3Publisher, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   50,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Publisher(client, cfg), nil
}

// ObjectKey is the bucket key an artifact is published under.
func (p *S3Publisher) ObjectKey(s *Session) string {
	return path.Join(p.config.Prefix, s.UploadID, sanitizeFileName(s.FileName))
}

func (p *S3Publisher) Publish(ctx context.Context, s *Session, finalPath string) error {
	f, err := os.Open(finalPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	contentType := s.MimeType
	if contentType == "" {
		contentType = utils.DetectContentType(s.FileName)
	}

	_, err = p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.config.BucketName),
		Key:           aws.String(p.ObjectKey(s)),
		Body:          f,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(s.FileSize),
		Metadata: map[string]string{
			"upload-id": s.UploadID,
			"owner-id":  s.OwnerID,
		},
	})
	if err != nil {
		return fmt.Errorf("publish to s3: %w", err)
	}
	return nil
}

var _ Publisher = (*S3Publisher)(nil)
