package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/notescribe/pkg/transcribe"
)

// DefaultDownloadURL hosts the official ggml conversions of the Whisper
// models.
const DefaultDownloadURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// DefaultModelName is the model used when none is configured.
const DefaultModelName = "small"

var validModelName = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ErrInvalidModelName is returned for names that cannot map to a ggml file.
var ErrInvalidModelName = errors.New("whisper: invalid model name")

// Cache resolves Whisper model names to ggml files on disk, downloading them
// on first use.
type Cache struct {
	dir        string
	baseURL    string
	httpClient *http.Client
}

// CacheOption configures a [Cache].
type CacheOption func(*Cache)

// WithDownloadURL overrides the base URL that ggml-<name>.bin is fetched
// from.
func WithDownloadURL(u string) CacheOption {
	return func(c *Cache) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithDownloadClient replaces the HTTP client used for downloads.
func WithDownloadClient(hc *http.Client) CacheOption {
	return func(c *Cache) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewCache creates a cache rooted at dir. An empty dir selects
// <user cache dir>/notescribe/whisper.
func NewCache(dir string, opts ...CacheOption) (*Cache, error) {
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("whisper: locate cache dir: %w", err)
		}
		dir = filepath.Join(base, "notescribe", "whisper")
	}
	c := &Cache{
		dir:        dir,
		baseURL:    DefaultDownloadURL,
		httpClient: &http.Client{Timeout: 30 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns where the model called name is stored.
func (c *Cache) Path(name string) (string, error) {
	if !validModelName.MatchString(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidModelName, name)
	}
	return filepath.Join(c.dir, "ggml-"+name+".bin"), nil
}

// Resolve returns the local path of the model called name, downloading it if
// it is not cached yet. Downloads land in a temporary file first so an
// interrupted transfer never leaves a truncated model behind.
func (c *Cache) Resolve(ctx context.Context, name string) (string, error) {
	path, err := c.Path(name)
	if err != nil {
		return "", err
	}
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		return path, nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("whisper: create cache dir: %w", err)
	}

	url := c.baseURL + "/" + filepath.Base(path)
	slog.Info("downloading whisper model", "model", name, "url", url)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("whisper: create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: download %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: download %s: HTTP %d", name, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(c.dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("whisper: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err := os.Remove(tmpName); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("whisper: remove partial download", "path", tmpName, "err", err)
		}
	}()

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("whisper: download %s: %w", name, err)
	}
	if n == 0 {
		return "", fmt.Errorf("whisper: download %s: empty body", name)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("whisper: store model: %w", err)
	}
	slog.Info("whisper model cached", "model", name, "path", path, "bytes", n, "elapsed", time.Since(start))
	return path, nil
}

// NativeLoader returns a transcribe.Loader that opens a Native model. When
// modelPath is set it is used directly; otherwise name is resolved through
// the cache.
func (c *Cache) NativeLoader(name, modelPath string, opts ...NativeOption) transcribe.Loader {
	return func(ctx context.Context) (transcribe.Model, error) {
		path := modelPath
		if path == "" {
			if name == "" {
				name = DefaultModelName
			}
			var err error
			if path, err = c.Resolve(ctx, name); err != nil {
				return nil, err
			}
		}
		return NewNative(path, opts...)
	}
}

// ServerLoader returns a transcribe.Loader for a whisper-server model.
func ServerLoader(baseURL string, opts ...Option) transcribe.Loader {
	return func(ctx context.Context) (transcribe.Model, error) {
		s, err := NewServer(baseURL, opts...)
		if err != nil {
			return nil, err
		}
		if err := s.Ping(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
}
