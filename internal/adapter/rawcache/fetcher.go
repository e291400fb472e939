// Package rawcache fetches upstream source documents over HTTP and keeps the
// raw bytes on disk so repeated ingests within the TTL do not hit the network
// and an unreachable upstream can be bridged with the last good copy.
package rawcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

const maxBodyBytes = 64 << 20

// Fetcher performs cached GET requests for one named source.
type Fetcher struct {
	source     string
	dir        string
	ttl        time.Duration
	timeout    time.Duration
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// New creates a fetcher that stores responses under dir/source. An empty dir
// disables disk caching.
func New(source, dir string, ttl, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		source:     source,
		dir:        dir,
		ttl:        ttl,
		timeout:    timeout,
		httpClient: &http.Client{},
		metrics:    metrics,
		logger:     logger,
	}
}

// Source returns the name the fetcher was created for.
func (f *Fetcher) Source() string { return f.source }

// Get returns the body for url. A cached copy younger than the TTL is served
// without a request. When the request fails and a stale copy exists, the stale
// copy is served and a warning is logged. A 404 maps to domain.ErrDataUnavailable.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	path := f.cachePath(url)

	cached, age, cacheErr := f.readCache(path)
	if cacheErr == nil && age < f.ttl {
		f.metrics.SourceRequests.WithLabelValues(f.source, "cached").Inc()
		return cached, nil
	}

	body, err := f.fetch(ctx, url)
	if err == nil {
		f.metrics.SourceRequests.WithLabelValues(f.source, "success").Inc()
		if werr := f.writeCache(path, body); werr != nil {
			f.logger.Warn("raw cache write failed", "source", f.source, "error", werr)
		}
		return body, nil
	}

	if cacheErr == nil && !errors.Is(err, domain.ErrDataUnavailable) {
		f.metrics.SourceRequests.WithLabelValues(f.source, "stale").Inc()
		f.logger.Warn("upstream unavailable, serving stale copy",
			"source", f.source,
			"url", url,
			"age", age.Round(time.Second).String(),
			"error", err,
		)
		return cached, nil
	}

	f.metrics.SourceRequests.WithLabelValues(f.source, "error").Inc()
	return nil, err
}

func (f *Fetcher) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	f.metrics.SourceFetchDuration.WithLabelValues(f.source).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", f.source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w: %s not found", f.source, domain.ErrDataUnavailable, url)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s API error: status %d: %s", f.source, resp.StatusCode, body)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", f.source, err)
	}
	return body, nil
}

func (f *Fetcher) cachePath(url string) string {
	if f.dir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.dir, f.source, hex.EncodeToString(sum[:12])+".raw")
}

func (f *Fetcher) readCache(path string) ([]byte, time.Duration, error) {
	if path == "" {
		return nil, 0, fs.ErrNotExist
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return data, domain.Now().Sub(info.ModTime()), nil
}

// writeCache replaces the cached copy atomically and stamps it with the
// package clock so freshness follows the same time source as reads.
func (f *Fetcher) writeCache(path string, body []byte) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".fetch-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	now := domain.Now()
	return os.Chtimes(path, now, now)
}
