package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/coah80/reelup/internal/media"
)

const (
	StoragePrefix = "/api/storage/"
	SignPath      = StoragePrefix + "sign"
	UploadPath    = StoragePrefix + "upload"
)

type SignRequest struct {
	FilePath    string `json:"filePath"`
	ContentType string `json:"contentType"`
}

type SignResponse struct {
	SignedURL string `json:"signedUrl"`
	PublicURL string `json:"publicUrl"`
}

type UploadResponse struct {
	URL string `json:"url"`
}

// StatusError is a non-2xx answer from one of the upload endpoints.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("transport: %s: HTTP %d", e.Op, e.Code)
	}
	return fmt.Sprintf("transport: %s: HTTP %d: %s", e.Op, e.Code, body)
}

var payloadHints = []string{"too large", "entitytoolarge", "payload", "size", "maximum"}

// PayloadRejected reports whether the storage refused the body for its size.
func (e *StatusError) PayloadRejected() bool {
	switch e.Code {
	case 413:
		return true
	case 400:
		body := strings.ToLower(e.Body)
		for _, hint := range payloadHints {
			if strings.Contains(body, hint) {
				return true
			}
		}
	}
	return false
}

type Transport struct {
	client      *resty.Client
	secret      string
	directLimit int64
	tick        time.Duration
	log         *zap.Logger
}

type Option func(*Transport)

// WithTick sets the interval of the synthetic progress steps.
func WithTick(d time.Duration) Option {
	return func(t *Transport) { t.tick = d }
}

func New(baseURL, secret string, directLimit int64, log *zap.Logger, opts ...Option) *Transport {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))

	t := &Transport{
		client:      client,
		secret:      secret,
		directLimit: directLimit,
		tick:        300 * time.Millisecond,
		log:         log.Named("transport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Destination builds a unique object path inside folder.
func Destination(folder, ext string) string {
	name := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	if ext != "" {
		name += "." + ext
	}
	return path.Join(folder, name)
}

// Upload stores f under folder and returns its public URL. Files above the
// direct limit go through the server; smaller ones are PUT to a signed URL and
// fall back to the server when storage refuses the payload size.
func (t *Transport) Upload(ctx context.Context, f media.File, folder string, onProgress func(int)) (string, error) {
	p := startProgress(t.tick, onProgress)
	url, err := t.upload(ctx, f, folder, p)
	p.stop(err == nil)
	return url, err
}

func (t *Transport) upload(ctx context.Context, f media.File, folder string, p *progress) (string, error) {
	log := t.log.With(zap.String("file", f.Name), zap.Float64("size_mb", f.SizeMB()))

	if f.Size > t.directLimit {
		log.Debug("above direct limit, uploading through server")
		return t.mediated(ctx, f, folder, p)
	}

	url, err := t.direct(ctx, f, folder)
	var se *StatusError
	if errors.As(err, &se) && se.Op == "put" && se.PayloadRejected() {
		log.Info("direct upload refused, retrying through server", zap.Int("status", se.Code))
		return t.mediated(ctx, f, folder, p)
	}
	return url, err
}

func (t *Transport) request(ctx context.Context) *resty.Request {
	req := t.client.R().SetContext(ctx)
	if t.secret != "" {
		req.SetAuthToken(t.secret)
	}
	return req
}

func (t *Transport) direct(ctx context.Context, f media.File, folder string) (string, error) {
	var signed SignResponse
	resp, err := t.request(ctx).
		SetBody(SignRequest{FilePath: Destination(folder, f.Ext()), ContentType: f.MIMEType}).
		SetResult(&signed).
		Post(SignPath)
	if err != nil {
		return "", fmt.Errorf("transport: sign: %w", err)
	}
	if resp.IsError() {
		return "", &StatusError{Op: "sign", Code: resp.StatusCode(), Body: resp.String()}
	}
	if signed.SignedURL == "" || signed.PublicURL == "" {
		return "", fmt.Errorf("transport: sign: incomplete response %q", resp.String())
	}

	body, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("transport: read %s: %w", f.Name, err)
	}

	// The signed URL carries its own credentials.
	resp, err = t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", f.MIMEType).
		SetBody(body).
		Put(signed.SignedURL)
	if err != nil {
		return "", fmt.Errorf("transport: put: %w", err)
	}
	if resp.IsError() {
		return "", &StatusError{Op: "put", Code: resp.StatusCode(), Body: resp.String()}
	}
	return signed.PublicURL, nil
}

func (t *Transport) mediated(ctx context.Context, f media.File, folder string, p *progress) (string, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return "", fmt.Errorf("transport: open %s: %w", f.Name, err)
	}
	defer file.Close()

	body := &countingReader{r: file, total: f.Size, report: p.measure}

	var out UploadResponse
	resp, err := t.request(ctx).
		SetMultipartFormData(map[string]string{"folder": folder}).
		SetMultipartField("file", f.Name, f.MIMEType, body).
		SetResult(&out).
		Post(UploadPath)
	if err != nil {
		return "", fmt.Errorf("transport: upload: %w", err)
	}
	if resp.IsError() {
		return "", &StatusError{Op: "upload", Code: resp.StatusCode(), Body: resp.String()}
	}
	if out.URL == "" {
		return "", fmt.Errorf("transport: upload: response has no url: %q", resp.String())
	}
	return out.URL, nil
}
