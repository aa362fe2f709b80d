package gateway

import (
	"context"
	"encoding/json"
	"math"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// errorResponse is the JSON envelope for every non-2xx answer
type errorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"traceId,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg, TraceID: GetTraceID(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requireFile validates the path query parameter and answers 400 or 404
// itself when it is unusable
func (s *Server) requireFile(w http.ResponseWriter, r *http.Request) (string, os.FileInfo, bool) {
	p := r.URL.Query().Get("path")
	if p == "" {
		writeError(w, r, http.StatusBadRequest, "missing path parameter")
		return "", nil, false
	}
	p = filepath.Clean(p)

	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		writeError(w, r, http.StatusNotFound, "file not found")
		return "", nil, false
	}
	return p, info, true
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	p, info, ok := s.requireFile(w, r)
	if !ok {
		return
	}

	f, err := os.Open(p)
	if err != nil {
		s.logger.Error("Failed to open file", zap.String("path", p), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "failed to open file")
		return
	}
	defer f.Close()

	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	p, _, ok := s.requireFile(w, r)
	if !ok {
		return
	}

	start := 0.0
	if raw := r.URL.Query().Get("start"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			writeError(w, r, http.StatusBadRequest, "invalid start parameter")
			return
		}
		start = v
	}

	s.pipe(w, r, s.builder.BuildStream(p, start), "video/mp4", "stream")
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	p, _, ok := s.requireFile(w, r)
	if !ok {
		return
	}

	meta, err := s.prober.Probe(r.Context(), p)
	if err != nil {
		s.logger.Warn("Probe failed",
			zap.String("trace_id", GetTraceID(r.Context())),
			zap.String("path", p),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleSubtitles(w http.ResponseWriter, r *http.Request) {
	p, _, ok := s.requireFile(w, r)
	if !ok {
		return
	}

	meta, err := s.prober.Probe(r.Context(), p)
	if err != nil {
		s.logger.Warn("Subtitle check failed", zap.String("path", p), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if !meta.HasSubtitles() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.pipe(w, r, s.builder.BuildSubtitle(p), "text/vtt; charset=utf-8", "subtitle")
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, r, http.StatusBadRequest, "missing url parameter")
		return
	}
	if s.source == nil {
		writeError(w, r, http.StatusBadRequest, "no network source available")
		return
	}

	upstream, err := s.source.Open(r.Context(), target)
	if err != nil {
		s.logger.Warn("Proxy open failed", zap.String("url", target), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "failed to open stream")
		return
	}

	// Release the upstream as soon as the client goes away, even if a Read
	// is blocked, and again on every other exit path.
	var once sync.Once
	release := func() { once.Do(func() { _ = upstream.Close() }) }
	stop := context.AfterFunc(r.Context(), release)
	defer func() {
		stop()
		release()
	}()

	w.Header().Set("Content-Type", proxyContentType(target))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	written, err := copyFlush(w, upstream)
	if err != nil && !isClientGone(err) && r.Context().Err() == nil {
		s.logger.Warn("Proxy copy failed", zap.String("url", target), zap.Int64("bytes", written), zap.Error(err))
		return
	}
	s.logger.Debug("Proxy finished", zap.String("url", target), zap.Int64("bytes", written))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func proxyContentType(target string) string {
	if u, err := url.Parse(target); err == nil {
		if ct := mime.TypeByExtension(path.Ext(u.Path)); ct != "" {
			return ct
		}
	}
	return "application/octet-stream"
}
