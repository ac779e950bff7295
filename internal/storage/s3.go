package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/coah80/reelup/internal/config"
)

type S3 struct {
	client  *s3.Client
	presign *s3.PresignClient
	cfg     config.S3Config
	ttl     time.Duration
	log     *zap.Logger
}

func NewS3(ctx context.Context, cfg config.S3Config, ttl time.Duration, log *zap.Logger) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	return newS3FromConfig(awsCfg, cfg, ttl, log), nil
}

func newS3FromConfig(awsCfg aws.Config, cfg config.S3Config, ttl time.Duration, log *zap.Logger) *S3 {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3{
		client: client,
		presign: s3.NewPresignClient(client, func(o *s3.PresignOptions) {
			o.Expires = ttl
		}),
		cfg: cfg,
		ttl: ttl,
		log: log.Named("storage"),
	}
}

func (b *S3) SignUpload(ctx context.Context, key, contentType string) (Signed, error) {
	key, err := CleanKey(key)
	if err != nil {
		return Signed{}, err
	}
	req, err := b.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return Signed{}, fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return Signed{
		URL:       req.URL,
		PublicURL: b.PublicURL(key),
		ExpiresAt: time.Now().Add(b.ttl),
	}, nil
}

func (b *S3) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.cfg.Bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("storage: put %s: %w", key, err)
	}
	b.log.Debug("object stored", zap.String("bucket", b.cfg.Bucket), zap.String("key", key))
	return b.PublicURL(key), nil
}

func (b *S3) PublicURL(key string) string {
	if b.cfg.PublicURL != "" {
		return strings.TrimRight(b.cfg.PublicURL, "/") + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.cfg.Bucket, b.cfg.Region, key)
}
