// Package fetch downloads raster tiles from public tile servers.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	log "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// ErrUnexpectedStatus is returned when a tile server answers anything but 200.
var ErrUnexpectedStatus = errors.New("unexpected status code")

const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "tilecached/1.0 (+https://github.com/akhenakh/tilecache)"

	// tiles are small, anything bigger is not a tile
	defaultMaxBodySize = 4 << 20
)

// HTTP fetches tiles over HTTP(S).
type HTTP struct {
	client      *http.Client
	logger      log.Logger
	userAgent   string
	referer     string
	maxBodySize int64
}

// Option configures an HTTP fetcher.
type Option func(*HTTP)

// WithClient replaces the underlying http.Client.
func WithClient(c *http.Client) Option {
	return func(h *HTTP) { h.client = c }
}

func WithTimeout(d time.Duration) Option {
	return func(h *HTTP) { h.client.Timeout = d }
}

func WithUserAgent(ua string) Option {
	return func(h *HTTP) {
		if ua != "" {
			h.userAgent = ua
		}
	}
}

func WithReferer(ref string) Option {
	return func(h *HTTP) { h.referer = ref }
}

// New returns an HTTP fetcher.
func New(logger log.Logger, opts ...Option) *HTTP {
	h := &HTTP{
		client:      &http.Client{Timeout: DefaultTimeout},
		logger:      log.With(logger, "component", "fetcher"),
		userAgent:   DefaultUserAgent,
		maxBodySize: defaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Fetch GETs url and returns the body and its content type.
func (h *HTTP) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("can't create request for %s: %w", url, err)
	}

	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "image/png,image/jpeg,image/*;q=0.8")
	if h.referer != "" {
		req.Header.Set("Referer", h.referer)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("can't fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	level.Debug(h.logger).Log(
		"msg", "tile fetched",
		"url", url,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode != http.StatusOK {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, h.maxBodySize))

		return nil, "", fmt.Errorf("%w %d from %s", ErrUnexpectedStatus, resp.StatusCode, url)
	}

	ctype := resp.Header.Get("Content-Type")
	if ctype != "" {
		mt, _, err := mime.ParseMediaType(ctype)
		if err == nil && !strings.HasPrefix(mt, "image/") {
			return nil, "", fmt.Errorf("unexpected content type %q from %s", ctype, url)
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBodySize+1))
	if err != nil {
		return nil, "", fmt.Errorf("can't read body from %s: %w", url, err)
	}
	if int64(len(data)) > h.maxBodySize {
		return nil, "", fmt.Errorf("tile from %s exceeds %d bytes", url, h.maxBodySize)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty tile from %s", url)
	}

	return data, ctype, nil
}
