package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/coah80/reelup/internal/config"
)

const (
	PutPrefix   = "/storage/put/"
	MediaPrefix = "/media/"
)

type uploadClaims struct {
	Key         string `json:"key"`
	ContentType string `json:"ct"`
	jwt.RegisteredClaims
}

// Local keeps objects on disk and signs uploads with HS256 tokens that the
// server's PUT endpoint verifies.
type Local struct {
	dir     string
	baseURL string
	secret  []byte
	ttl     time.Duration
	log     *zap.Logger
}

func NewLocal(cfg config.LocalConfig, secret string, ttl time.Duration, log *zap.Logger) (*Local, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", cfg.Dir, err)
	}
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		log.Warn("no server secret set, local upload tokens use an ephemeral key")
	}
	return &Local{
		dir:     cfg.Dir,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  key,
		ttl:     ttl,
		log:     log.Named("storage"),
	}, nil
}

func (l *Local) SignUpload(ctx context.Context, key, contentType string) (Signed, error) {
	key, err := CleanKey(key)
	if err != nil {
		return Signed{}, err
	}
	expires := time.Now().Add(l.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, uploadClaims{
		Key:         key,
		ContentType: contentType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := token.SignedString(l.secret)
	if err != nil {
		return Signed{}, fmt.Errorf("storage: sign: %w", err)
	}
	return Signed{
		URL:       l.baseURL + PutPrefix + key + "?token=" + url.QueryEscape(signed),
		PublicURL: l.PublicURL(key),
		ExpiresAt: expires,
	}, nil
}

// Verify checks that token grants an upload of key with contentType.
func (l *Local) Verify(token, key, contentType string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	var claims uploadClaims
	_, err = jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return l.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Key != key {
		return fmt.Errorf("%w: token is for another key", ErrInvalidToken)
	}
	if claims.ContentType != "" && contentType != "" && !strings.EqualFold(claims.ContentType, contentType) {
		return fmt.Errorf("%w: content type mismatch", ErrInvalidToken)
	}
	return nil
}

func (l *Local) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	dst := l.Path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("storage: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: %w", err)
	}
	written, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil && size > 0 && written != size {
		err = fmt.Errorf("short body: got %d of %d bytes", written, size)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dst)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: write %s: %w", key, err)
	}

	l.log.Debug("object stored", zap.String("key", key), zap.Int64("bytes", written))
	return l.PublicURL(key), nil
}

func (l *Local) PublicURL(key string) string {
	return l.baseURL + MediaPrefix + key
}

// Path maps a cleaned key onto the storage directory.
func (l *Local) Path(key string) string {
	return filepath.Join(l.dir, filepath.FromSlash(key))
}

func (l *Local) Dir() string {
	return l.dir
}

// Exists reports whether key names a stored object.
func (l *Local) Exists(key string) bool {
	key, err := CleanKey(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(l.Path(key))
	return err == nil && !info.IsDir()
}

func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidKey) || errors.Is(err, ErrInvalidToken)
}
