// Package convert runs offline ffmpeg conversions, one process per job, with
// a concurrency cap, progress reporting and kill-based cancellation.
package convert

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ytget/yt-player/internal/metrics"
	"github.com/ytget/yt-player/internal/model"
	"github.com/ytget/yt-player/internal/transcode"
)

// Defaults for Options
const (
	DefaultMaxConcurrent = 2
	DefaultStallTimeout  = 10 * time.Minute
)

// ErrCancelled is the cancellation cause for operator-initiated stops
var ErrCancelled = model.ErrCancelled

// ErrAlreadyRunning is returned when a job id is started twice
var ErrAlreadyRunning = errors.New("conversion already running")

// Builder maps a request to an ffmpeg process
type Builder interface {
	BuildConvert(req model.ConversionRequest) (transcode.ProcessSpec, error)
}

// Prober supplies the input duration used for percentages
type Prober interface {
	Probe(ctx context.Context, path string) (model.MediaMetadata, error)
}

// ReportFunc receives every progress and terminal update of a job
type ReportFunc = func(model.JobUpdate)

// Options tunes the runner
type Options struct {
	MaxConcurrent int
	StallTimeout  time.Duration // zero disables the watchdog
}

// Runner executes conversions
type Runner struct {
	builder      Builder
	prober       Prober
	logger       *zap.Logger
	metrics      *metrics.Metrics
	sem          chan struct{}
	stallTimeout time.Duration

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
}

// NewRunner creates a conversion runner. prober may be nil, in which case
// progress is reported without percentages.
func NewRunner(builder Builder, prober Prober, logger *zap.Logger, m *metrics.Metrics, opts Options) *Runner {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Runner{
		builder:      builder,
		prober:       prober,
		logger:       logger.Named("convert"),
		metrics:      m,
		sem:          make(chan struct{}, opts.MaxConcurrent),
		stallTimeout: opts.StallTimeout,
		running:      make(map[string]context.CancelCauseFunc),
	}
}

// Run converts req for jobID and blocks until the process exits. Operator
// cancellation returns nil; every other failure is returned for the caller
// to record.
func (r *Runner) Run(ctx context.Context, jobID string, req model.ConversionRequest, report ReportFunc) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if info, err := os.Stat(req.InputPath); err != nil || info.IsDir() {
		return fmt.Errorf("%w: input file does not exist: %s", model.ErrInvalidInput, req.InputPath)
	}
	spec, err := r.builder.BuildConvert(req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if !r.register(jobID, cancel) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, jobID)
	}
	defer r.unregister(jobID)

	log := r.logger.With(zap.String("job_id", jobID), zap.String("input", req.InputPath))

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return r.interrupted(ctx, log)
	}
	if ctx.Err() != nil {
		return r.interrupted(ctx, log)
	}

	duration := r.probeDuration(ctx, req.InputPath, log)
	report(model.JobUpdate{
		Status:  model.JobStatusRunning,
		Message: fmt.Sprintf("Converting to %s", strings.ToLower(req.Format)),
	})

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	cmd := spec.Command(ctx)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	finish := r.metrics.TrackProcess("convert")
	log.Info("Conversion started", zap.String("cmd", spec.String()), zap.Float64("duration", duration))

	watchdog := transcode.NewWatchdog(r.stallTimeout, cancel)
	defer watchdog.Stop()

	tail := transcode.NewTailBuffer(transcode.DefaultTailSize)
	r.monitorProgress(stderr, duration, watchdog, tail, report)
	waitErr := cmd.Wait()

	if cause := context.Cause(ctx); waitErr != nil && ctx.Err() != nil {
		removePartial(req.OutputPath, log)
		if errors.Is(cause, ErrCancelled) {
			finish("cancelled")
			log.Info("Conversion cancelled")
			return nil
		}
		finish("failed")
		if errors.Is(cause, transcode.ErrStalled) {
			log.Warn("Conversion stalled", zap.Error(cause))
			return cause
		}
		return fmt.Errorf("conversion interrupted: %w", cause)
	}
	if waitErr != nil {
		finish("failed")
		removePartial(req.OutputPath, log)
		log.Warn("Conversion failed", zap.Error(waitErr), zap.String("stderr", tail.String()))
		if msg := tail.String(); msg != "" {
			return fmt.Errorf("ffmpeg failed: %w: %s", waitErr, lastLine(msg))
		}
		return fmt.Errorf("ffmpeg failed: %w", waitErr)
	}

	finish("ok")
	log.Info("Conversion completed", zap.String("output", req.OutputPath))
	report(model.JobUpdate{
		Status:     model.JobStatusCompleted,
		Progress:   100,
		Message:    "Completed",
		OutputFile: req.OutputPath,
	})
	return nil
}

// Cancel kills the process for jobID. Unknown or finished jobs are ignored.
func (r *Runner) Cancel(jobID string) {
	r.mu.Lock()
	cancel, ok := r.running[jobID]
	r.mu.Unlock()
	if ok {
		cancel(ErrCancelled)
	}
}

// Active reports whether jobID currently owns a slot or is waiting for one
func (r *Runner) Active(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[jobID]
	return ok
}

func (r *Runner) register(jobID string, cancel context.CancelCauseFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.running[jobID]; exists {
		return false
	}
	r.running[jobID] = cancel
	return true
}

func (r *Runner) unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, jobID)
}

func (r *Runner) interrupted(ctx context.Context, log *zap.Logger) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrCancelled) {
		log.Info("Conversion cancelled before start")
		return nil
	}
	return fmt.Errorf("conversion interrupted: %w", cause)
}

// probeDuration is best effort; zero means progress without percentages
func (r *Runner) probeDuration(ctx context.Context, path string, log *zap.Logger) float64 {
	if r.prober == nil {
		return 0
	}
	meta, err := r.prober.Probe(ctx, path)
	if err != nil {
		log.Warn("Failed to get input duration", zap.Error(err))
		return 0
	}
	return meta.Duration
}

// monitorProgress reads ffmpeg -progress output until the pipe closes
func (r *Runner) monitorProgress(stderr io.Reader, duration float64, watchdog *transcode.Watchdog, tail *transcode.TailBuffer, report ReportFunc) {
	tracker := &transcode.ProgressTracker{Duration: duration}
	scanner := bufio.NewScanner(stderr)
	lastSeconds := int64(-1)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := transcode.ParseProgressLine(line)
		if !ok || strings.ContainsAny(key, " \t") {
			_, _ = tail.Write([]byte(line + "\n"))
			continue
		}
		watchdog.Touch()

		if percent, advanced := tracker.Feed(line); advanced {
			report(model.JobUpdate{
				Status:   model.JobStatusRunning,
				Progress: percent,
				Message:  fmt.Sprintf("Converting: %.0f%%", percent),
			})
			continue
		}

		// Without a duration only elapsed media time can be shown
		if duration <= 0 && key == transcode.ProgressTimeUsKey {
			if secs, ok := parseSeconds(value); ok && secs != lastSeconds {
				lastSeconds = secs
				report(model.JobUpdate{
					Status:  model.JobStatusRunning,
					Message: fmt.Sprintf("Converting: %s processed", time.Duration(secs)*time.Second),
				})
			}
		}
	}
}

func parseSeconds(us string) (int64, bool) {
	var v int64
	if _, err := fmt.Sscan(us, &v); err != nil || v < 0 {
		return 0, false
	}
	return v / 1_000_000, true
}

func removePartial(path string, log *zap.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to remove partial output", zap.String("path", path), zap.Error(err))
	}
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
