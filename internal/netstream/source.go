// Package netstream defines the browse/resolve/open capability that remote
// media sources provide to the gateway's /proxy route, plus an HTTP source
// and a scheme router.
package netstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnsupported is returned for operations or schemes a source cannot serve
	ErrUnsupported = errors.New("unsupported by source")
	// ErrUpstream wraps non-success responses from a remote source
	ErrUpstream = errors.New("upstream error")
)

// Entry is one item in a browsed location
type Entry struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size,omitempty"`
}

// Source is a non-local media provider. Open returns a stream the caller must
// Close.
type Source interface {
	Browse(ctx context.Context, location string) ([]Entry, error)
	Resolve(ctx context.Context, location string) (string, error)
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// Router dispatches to a Source by URL scheme
type Router struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRouter creates an empty scheme router
func NewRouter() *Router {
	return &Router{sources: make(map[string]Source)}
}

// Register binds a source to one or more schemes
func (r *Router) Register(src Source, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range schemes {
		r.sources[strings.ToLower(s)] = src
	}
}

func (r *Router) lookup(location string) (Source, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" {
		return nil, fmt.Errorf("%w: invalid location %q", ErrUnsupported, location)
	}
	r.mu.RLock()
	src, ok := r.sources[strings.ToLower(u.Scheme)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupported, u.Scheme)
	}
	return src, nil
}

// Browse implements Source
func (r *Router) Browse(ctx context.Context, location string) ([]Entry, error) {
	src, err := r.lookup(location)
	if err != nil {
		return nil, err
	}
	return src.Browse(ctx, location)
}

// Resolve implements Source
func (r *Router) Resolve(ctx context.Context, location string) (string, error) {
	src, err := r.lookup(location)
	if err != nil {
		return "", err
	}
	return src.Resolve(ctx, location)
}

// Open implements Source
func (r *Router) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	src, err := r.lookup(location)
	if err != nil {
		return nil, err
	}
	return src.Open(ctx, location)
}

// HTTPSource streams http and https locations
type HTTPSource struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPSource creates an HTTP source. A nil client gets one without an
// overall timeout, since streams are long-lived and bound by ctx instead.
func NewHTTPSource(client *http.Client, logger *zap.Logger) *HTTPSource {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}
	return &HTTPSource{client: client, logger: logger}
}

// Browse is not meaningful for plain HTTP
func (s *HTTPSource) Browse(context.Context, string) ([]Entry, error) {
	return nil, ErrUnsupported
}

// Resolve follows redirects with a HEAD request and returns the final URL
func (s *HTTPSource) Resolve(ctx context.Context, location string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, location, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", location, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("%w: %s returned %d", ErrUpstream, location, resp.StatusCode)
	}
	return resp.Request.URL.String(), nil
}

// Open starts a GET and hands back the body
func (s *HTTPSource) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", location, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %d", ErrUpstream, location, resp.StatusCode)
	}

	s.logger.Debug("Opened upstream stream",
		zap.String("url", location),
		zap.Int64("content_length", resp.ContentLength),
	)
	return resp.Body, nil
}
