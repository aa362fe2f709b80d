package download

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ytget/yt-player/internal/metrics"
	"github.com/ytget/yt-player/internal/model"
	"github.com/ytget/yt-player/internal/platform"
	"github.com/ytget/yt-player/internal/transcode"
)

// progressFloor is shown as soon as the fetch starts so the job does not look
// idle while the engine negotiates formats
const progressFloor = 10.0

// Output template placeholders understood by the fetch engine
const (
	titlePlaceholder = "%(title)s"
	extPlaceholder   = "%(ext)s"
)

// ReportFunc receives every progress and terminal update of a job
type ReportFunc = func(model.JobUpdate)

// Options tunes the runner
type Options struct {
	StallTimeout time.Duration // zero disables the watchdog
}

// Runner executes downloads one at a time
type Runner struct {
	fetcher      Fetcher
	queue        *Queue
	logger       *zap.Logger
	metrics      *metrics.Metrics
	stallTimeout time.Duration
}

// NewRunner creates a download runner with its own queue. m may be nil.
func NewRunner(fetcher Fetcher, logger *zap.Logger, m *metrics.Metrics, opts Options) *Runner {
	return &Runner{
		fetcher:      fetcher,
		queue:        NewQueue(m),
		logger:       logger.Named("download"),
		metrics:      m,
		stallTimeout: opts.StallTimeout,
	}
}

// Run queues the download for jobID and blocks until it finished or left the
// queue. Operator cancellation returns nil.
func (r *Runner) Run(ctx context.Context, jobID string, req model.DownloadRequest, report ReportFunc) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return r.queue.Do(ctx, jobID, func(ctx context.Context) error {
		return r.download(ctx, jobID, req, report)
	})
}

// Cancel removes a waiting download from the queue or stops the running one.
// Unknown or finished jobs are ignored.
func (r *Runner) Cancel(jobID string) {
	if r.queue.Cancel(jobID) {
		r.logger.Info("Download cancel requested", zap.String("job_id", jobID))
	}
}

// Pending returns the number of downloads waiting for the slot
func (r *Runner) Pending() int {
	return r.queue.Len()
}

func (r *Runner) download(ctx context.Context, jobID string, req model.DownloadRequest, report ReportFunc) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	url := SanitizeURL(req.URL)
	log := r.logger.With(zap.String("job_id", jobID), zap.String("url", url))

	report(model.JobUpdate{Status: model.JobStatusRunning, Progress: progressFloor, Message: "Analyzing"})

	fallback := false
	title, err := r.fetcher.ResolveTitle(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx, log)
		}
		log.Warn("Failed to resolve title", zap.Error(err))
		title = fallbackTitle(url)
		fallback = true
	}

	planned, template := ResolveOutputPath(req.OutputPath, title, req.Mode)
	if info, err := os.Stat(planned); err == nil && !info.IsDir() {
		log.Info("File already exists", zap.String("path", planned))
		report(model.JobUpdate{
			Status:     model.JobStatusCompleted,
			Progress:   100,
			Message:    "Already exists",
			Title:      title,
			OutputFile: planned,
		})
		return nil
	}
	if err := platform.CreateDirectoryIfNotExists(filepath.Dir(planned)); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	report(model.JobUpdate{
		Status:   model.JobStatusRunning,
		Progress: progressFloor,
		Message:  "Downloading",
		Title:    title,
	})

	watchdog := transcode.NewWatchdog(r.stallTimeout, cancel)
	defer watchdog.Stop()

	finish := r.metrics.TrackProcess("download")
	log.Info("Download started", zap.String("output", template), zap.String("mode", string(req.Mode)))

	lastReported := progressFloor
	file, err := r.fetcher.Fetch(ctx, url, template, req.Mode, func(p FetchProgress) {
		watchdog.Touch()
		update := model.JobUpdate{Status: model.JobStatusRunning}
		if fallback && p.Title != "" {
			update.Title = p.Title
		}
		if percent := math.Floor(max(p.Percent, progressFloor)); percent > lastReported {
			lastReported = percent
			update.Progress = percent
			update.Message = fmt.Sprintf("Downloading: %.0f%%", percent)
		}
		if update.Progress > 0 || update.Title != "" {
			report(update)
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			if errors.Is(context.Cause(ctx), ErrCancelled) {
				finish("cancelled")
			} else {
				finish("failed")
			}
			return interrupted(ctx, log)
		}
		finish("failed")
		log.Warn("Download failed", zap.Error(err))
		return err
	}
	finish("ok")

	actual, err := reconcile(file, planned)
	if err != nil {
		return fmt.Errorf("downloaded file not found: %w", err)
	}
	log.Info("Download completed", zap.String("output", actual))
	report(model.JobUpdate{
		Status:     model.JobStatusCompleted,
		Progress:   100,
		Message:    "Completed",
		OutputFile: actual,
	})
	return nil
}

// ResolveOutputPath turns the request's output path and the resolved title
// into the file the job is expected to produce and the template handed to
// the fetch engine. The output path may be a template with %(title)s and
// %(ext)s, a directory, or a concrete file path.
func ResolveOutputPath(output, title string, mode model.DownloadMode) (planned, template string) {
	ext := expectedExt(mode)
	name := platform.SanitizeFilename(title)
	if name == "" {
		name = fallbackName
	}

	if strings.Contains(output, "%(") {
		planned = strings.NewReplacer(
			titlePlaceholder, name,
			extPlaceholder, strings.TrimPrefix(ext, "."),
		).Replace(output)
		return planned, output
	}

	if isDirTarget(output) {
		dir := filepath.Clean(output)
		return filepath.Join(dir, name+ext), filepath.Join(dir, name+"."+extPlaceholder)
	}

	base := strings.TrimSuffix(output, filepath.Ext(output))
	return output, base + "." + extPlaceholder
}

func expectedExt(mode model.DownloadMode) string {
	if mode == model.DownloadModeAudio {
		return ".mp3"
	}
	return ".mp4"
}

func isDirTarget(path string) bool {
	if strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(filepath.Separator)) {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// reconcile finds the file the engine actually wrote
func reconcile(reported, planned string) (string, error) {
	if reported != "" {
		if info, err := os.Stat(reported); err == nil && !info.IsDir() {
			return reported, nil
		}
	}
	return platform.FindByBaseName(planned)
}

func interrupted(ctx context.Context, log *zap.Logger) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrCancelled):
		log.Info("Download cancelled")
		return nil
	case errors.Is(cause, transcode.ErrStalled):
		log.Warn("Download stalled", zap.Error(cause))
		return cause
	default:
		return fmt.Errorf("download interrupted: %w", cause)
	}
}
