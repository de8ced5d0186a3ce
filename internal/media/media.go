// Package media relays remote images (organization logos, profile pictures)
// into storage the service controls.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/scrypster/introducer/internal/config"
)

// maxImageBytes bounds a single download.
const maxImageBytes = 5 << 20

// Relay downloads sourceURL and stores it under destPath, returning the
// public URL of the stored copy. An empty URL with a nil error means there
// was nothing to relay.
type Relay interface {
	DownloadAndStore(ctx context.Context, sourceURL, destPath string) (string, error)
}

// NopRelay relays nothing.
type NopRelay struct{}

// DownloadAndStore always returns an empty URL.
func (NopRelay) DownloadAndStore(context.Context, string, string) (string, error) {
	return "", nil
}

// uploadFunc writes r to key in the bucket.
type uploadFunc func(ctx context.Context, key, contentType string, r io.Reader) error

// GCSRelay stores images in a Google Cloud Storage bucket.
type GCSRelay struct {
	bucket        string
	publicBaseURL string
	httpClient    *http.Client
	upload        uploadFunc
	client        *storage.Client
	logger        *zap.Logger
}

// NewRelay returns a GCSRelay when a bucket is configured and a NopRelay
// otherwise.
func NewRelay(ctx context.Context, cfg config.MediaConfig, logger *zap.Logger) (Relay, error) {
	if strings.TrimSpace(cfg.GCSBucket) == "" {
		return NopRelay{}, nil
	}
	return NewGCSRelay(ctx, cfg, logger)
}

// NewGCSRelay creates a storage client for cfg.GCSBucket.
func NewGCSRelay(ctx context.Context, cfg config.MediaConfig, logger *zap.Logger) (*GCSRelay, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	r := newRelay(cfg.GCSBucket, cfg.PublicBaseURL, nil, logger)
	r.client = client
	r.upload = func(ctx context.Context, key, contentType string, body io.Reader) error {
		w := client.Bucket(cfg.GCSBucket).Object(key).NewWriter(ctx)
		w.ContentType = contentType
		if _, err := io.Copy(w, body); err != nil {
			_ = w.Close()
			return fmt.Errorf("failed to write data to GCS: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("failed to close GCS writer: %w", err)
		}
		return nil
	}

	logger.Info("image relay initialized", zap.String("bucket", cfg.GCSBucket))
	return r, nil
}

func newRelay(bucket, publicBaseURL string, upload uploadFunc, logger *zap.Logger) *GCSRelay {
	return &GCSRelay{
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		httpClient:    &http.Client{Timeout: 20 * time.Second},
		upload:        upload,
		logger:        logger,
	}
}

// DownloadAndStore fetches sourceURL and writes it to destPath in the bucket.
func (r *GCSRelay) DownloadAndStore(ctx context.Context, sourceURL, destPath string) (string, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return "", nil
	}
	key := strings.TrimLeft(strings.TrimSpace(destPath), "/")
	if key == "" {
		return "", errors.New("media: destination path is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("media: failed to create request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("media: download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media: download returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeForKey(key)
	}
	if err := r.upload(ctx, key, contentType, io.LimitReader(resp.Body, maxImageBytes)); err != nil {
		return "", err
	}

	url := r.PublicURL(key)
	r.logger.Debug("image relayed", zap.String("key", key), zap.String("url", url))
	return url, nil
}

// PublicURL returns the URL at which key is served.
func (r *GCSRelay) PublicURL(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if r.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s", r.publicBaseURL, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", r.bucket, key)
}

// Close releases the storage client.
func (r *GCSRelay) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(key)
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	case strings.HasSuffix(s, ".svg"):
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}
