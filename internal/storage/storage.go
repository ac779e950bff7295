package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coah80/reelup/internal/config"
)

var (
	ErrInvalidKey   = errors.New("storage: invalid object key")
	ErrInvalidToken = errors.New("storage: invalid upload token")
)

// Signed is a short-lived upload grant.
type Signed struct {
	URL       string
	PublicURL string
	ExpiresAt time.Time
}

// Backend places objects in durable storage.
type Backend interface {
	SignUpload(ctx context.Context, key, contentType string) (Signed, error)
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// CleanKey normalizes an object key and rejects anything escaping the root.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	cleaned := path.Clean(key)
	if cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// New builds the backend selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig, secret string, log *zap.Logger) (Backend, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3(ctx, cfg.S3, cfg.SignTTL, log)
	case "local", "":
		return NewLocal(cfg.Local, secret, cfg.SignTTL, log)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
