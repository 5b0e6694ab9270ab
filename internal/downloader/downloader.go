package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"render-worker/internal/domain"
)

var (
	ErrNotFound     = errors.New("download: resource not found")
	ErrForbidden    = errors.New("download: access forbidden")
	ErrUnauthorized = errors.New("download: unauthorized")
	ErrEmptyBody    = errors.New("download: response has no body")
	ErrNoStore      = errors.New("download: no asset store configured")
)

// StatusError reports a non-2xx response to an asset URL.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// ObjectSource opens objects of the managed asset bucket by path.
type ObjectSource interface {
	NewReader(ctx context.Context, key string) (io.ReadCloser, error)
}

// Options configures the HTTP side of the downloader.
type Options struct {
	// HeaderTimeout bounds connecting and waiting for response headers.
	// The body copy is not bounded.
	// Default: 30s
	HeaderTimeout time.Duration

	// Default: 16
	MaxIdleConnsPerHost int
}

func DefaultOptions() Options {
	return Options{
		HeaderTimeout:       30 * time.Second,
		MaxIdleConnsPerHost: 16,
	}
}

// Downloader copies remote assets into local files.
type Downloader struct {
	store  ObjectSource
	client *http.Client
}

// New builds a Downloader. store may be nil when only URL downloads are used.
func New(store ObjectSource, opts Options) *Downloader {
	def := DefaultOptions()
	if opts.HeaderTimeout <= 0 {
		opts.HeaderTimeout = def.HeaderTimeout
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}

	dialer := &net.Dialer{Timeout: opts.HeaderTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.HeaderTimeout,
		ResponseHeaderTimeout: opts.HeaderTimeout,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Downloader{
		store:  store,
		client: &http.Client{Transport: transport},
	}
}

// Download fetches src into localPath.
func (d *Downloader) Download(ctx context.Context, src domain.TransferSource, localPath string) error {
	if err := src.Validate(); err != nil {
		return err
	}
	if src.URL != "" {
		return d.FromURL(ctx, src.URL, localPath)
	}
	return d.FromStore(ctx, src.ObjectPath, localPath)
}

// FromStore streams an object of the asset bucket into localPath. On failure
// localPath may hold a partial file; removing it is up to the caller.
func (d *Downloader) FromStore(ctx context.Context, objectPath, localPath string) error {
	if d.store == nil {
		return ErrNoStore
	}
	r, err := d.store.NewReader(ctx, objectPath)
	if err != nil {
		return fmt.Errorf("open object %s: %w", objectPath, err)
	}
	defer r.Close()

	return writeFile(localPath, r)
}

// FromURL streams an HTTP(S) resource into localPath. Bad statuses are
// reported before localPath is created.
func (d *Downloader) FromURL(ctx context.Context, url, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	// a zero-length 200 is a valid empty asset; only null-body statuses carry no body
	if resp.Body == nil || nullBodyStatus(resp.StatusCode) {
		return fmt.Errorf("get %s: status %d: %w", url, resp.StatusCode, ErrEmptyBody)
	}

	return writeFile(localPath, resp.Body)
}

func nullBodyStatus(code int) bool {
	switch code {
	case http.StatusNoContent, http.StatusResetContent, http.StatusNotModified:
		return true
	}
	return false
}

func writeFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy to %s: %w", path, err)
	}

	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync destination: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	return nil
}
