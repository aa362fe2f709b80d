// Package gateway is the loopback HTTP server that hands media to the
// browser playback surface. It serves browser-native files directly,
// transcodes everything else on demand, and proxies non-local sources.
// Every ffmpeg process it starts is owned by exactly one request and dies
// with it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/ytget/yt-player/internal/metrics"
	"github.com/ytget/yt-player/internal/model"
	"github.com/ytget/yt-player/internal/netstream"
	"github.com/ytget/yt-player/internal/transcode"
)

// DefaultAddr binds to an ephemeral loopback port
const DefaultAddr = "127.0.0.1:0"

// Route paths
const (
	RouteFile      = "/file"
	RouteStream    = "/stream"
	RouteMetadata  = "/metadata"
	RouteSubtitles = "/subtitles"
	RouteProxy     = "/proxy"
	RouteMetrics   = "/metrics"
	RouteHealth    = "/health"
)

// ErrNotLoopback is returned when asked to listen on a routable address
var ErrNotLoopback = errors.New("gateway must bind to a loopback address")

// nativeExtensions play in the browser without transcoding
var nativeExtensions = map[string]struct{}{
	".mp4":  {},
	".m4v":  {},
	".webm": {},
	".mp3":  {},
	".m4a":  {},
	".aac":  {},
	".ogg":  {},
	".oga":  {},
	".opus": {},
	".wav":  {},
	".flac": {},
}

// Prober returns container metadata for a local path
type Prober interface {
	Probe(ctx context.Context, path string) (model.MediaMetadata, error)
}

// ProcessBuilder produces the per-request ffmpeg processes
type ProcessBuilder interface {
	BuildStream(path string, startSeconds float64) transcode.ProcessSpec
	BuildSubtitle(path string) transcode.ProcessSpec
}

// Server is the streaming gateway
type Server struct {
	logger  *zap.Logger
	prober  Prober
	builder ProcessBuilder
	source  netstream.Source
	metrics *metrics.Metrics

	handler http.Handler

	mu         sync.RWMutex
	httpServer *http.Server
	listener   net.Listener
	cancelBase context.CancelFunc
}

// New wires the gateway. source may be nil, in which case /proxy answers 400.
func New(logger *zap.Logger, prober Prober, builder ProcessBuilder, source netstream.Source, m *metrics.Metrics) *Server {
	s := &Server{
		logger:  logger.Named("gateway"),
		prober:  prober,
		builder: builder,
		source:  source,
		metrics: m,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(RouteFile, s.handleFile).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc(RouteStream, s.handleStream).Methods(http.MethodGet)
	r.HandleFunc(RouteMetadata, s.handleMetadata).Methods(http.MethodGet)
	r.HandleFunc(RouteSubtitles, s.handleSubtitles).Methods(http.MethodGet)
	r.HandleFunc(RouteProxy, s.handleProxy).Methods(http.MethodGet)
	r.HandleFunc(RouteHealth, s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle(RouteMetrics, s.metrics.Handler()).Methods(http.MethodGet)
	}

	traced := otelhttp.NewHandler(r, "yt-player-gateway",
		otelhttp.WithFilter(func(req *http.Request) bool {
			return req.URL.Path != RouteMetrics && req.URL.Path != RouteHealth
		}),
	)
	return TraceID(Recovery(s.logger)(Logging(s.logger)(traced)))
}

// Handler exposes the full middleware chain, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds addr (DefaultAddr when empty) and serves in the background
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	if err := checkLoopback(addr); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.cancelBase = cancel
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Gateway stopped unexpectedly", zap.Error(err))
		}
	}()

	s.logger.Info("Gateway listening", zap.String("url", s.URL()))
	return nil
}

// URL returns the bound base URL, or "" before Start
func (s *Server) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

// Shutdown cancels in-flight streams, which kills their processes, then
// waits for handlers to return
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, cancel := s.httpServer, s.cancelBase
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	cancel()
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return nil
}

// PlaybackURL classifies a source and returns the gateway URL the player
// should open for it
func (s *Server) PlaybackURL(source string) string {
	return playbackURL(s.URL(), source)
}

func playbackURL(base, source string) string {
	if scheme, rest, ok := strings.Cut(source, "://"); ok {
		if !strings.EqualFold(scheme, "file") {
			return base + RouteProxy + "?url=" + url.QueryEscape(source)
		}
		source = rest
	}

	route := RouteStream
	if _, ok := nativeExtensions[strings.ToLower(filepath.Ext(source))]; ok {
		route = RouteFile
	}
	return base + route + "?path=" + url.QueryEscape(source)
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%w: %s", ErrNotLoopback, addr)
	}
	return nil
}
