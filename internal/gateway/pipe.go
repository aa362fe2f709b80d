package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/ytget/yt-player/internal/transcode"
)

const copyBufferSize = 256 * 1024

// Process outcomes recorded in metrics
const (
	outcomeOK           = "ok"
	outcomeDisconnected = "disconnected"
	outcomeFailed       = "failed"
)

// pipe runs spec for the lifetime of the request and copies its stdout into
// the response. The process is bound to a child of the request context, so
// a client disconnect, a write error or a read error all end in SIGKILL.
func (s *Server) pipe(w http.ResponseWriter, r *http.Request, spec transcode.ProcessSpec, contentType, kind string) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log := s.logger.With(
		zap.String("trace_id", GetTraceID(r.Context())),
		zap.String("kind", kind),
	)

	cmd := spec.Command(ctx)
	stderr := transcode.NewTailBuffer(transcode.DefaultTailSize)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Error("Failed to create stdout pipe", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "failed to start transcoder")
		return
	}
	if err := cmd.Start(); err != nil {
		log.Error("Failed to start process", zap.String("cmd", spec.String()), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "failed to start transcoder")
		return
	}
	finish := s.metrics.TrackProcess(kind)
	log.Debug("Process started", zap.Int("pid", cmd.Process.Pid), zap.String("cmd", spec.String()))

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Accept-Ranges", "none")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if kind == "stream" {
		w.Header().Set("Transfer-Encoding", "chunked")
	}
	w.WriteHeader(http.StatusOK)

	written, copyErr := copyFlush(w, stdout)
	disconnected := r.Context().Err() != nil || isClientGone(copyErr)
	if copyErr != nil {
		cancel()
	}
	waitErr := cmd.Wait()

	switch {
	case disconnected:
		finish(outcomeDisconnected)
		log.Debug("Client went away, process killed",
			zap.Int64("bytes", written),
			zap.NamedError("copy_error", copyErr),
		)
	case copyErr != nil:
		finish(outcomeFailed)
		log.Warn("Stream copy failed", zap.Int64("bytes", written), zap.Error(copyErr))
	case waitErr != nil:
		finish(outcomeFailed)
		log.Error("Process failed",
			zap.Int64("bytes", written),
			zap.String("stderr", stderr.String()),
			zap.Error(waitErr),
		)
	default:
		finish(outcomeOK)
		log.Debug("Process finished", zap.Int64("bytes", written))
	}
}

// copyFlush copies src to w, flushing after every chunk so the player sees
// fragments as soon as they are produced
func copyFlush(w http.ResponseWriter, src io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, copyBufferSize)
	var total int64

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			written, writeErr := w.Write(buf[:n])
			total += int64(written)
			if writeErr != nil {
				return total, writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return total, nil
			}
			return total, readErr
		}
	}
}

// isClientGone reports errors caused by the player closing the connection
func isClientGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) && errors.Is(netErr.Err, os.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset")
}
