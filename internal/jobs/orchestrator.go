// Package jobs owns the job table: it creates jobs, dispatches them to the
// conversion and download runners, merges every runner report into the
// stored record, persists the history and fans records out to subscribers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ytget/yt-player/internal/metrics"
	"github.com/ytget/yt-player/internal/model"
)

// History limits
const (
	DefaultHistoryLimit = 50
	jobIDPrefix         = "job-"
)

// InterruptedError is recorded on jobs that were still active when the
// previous process exited
const InterruptedError = "interrupted: application restarted before the job finished"

// shutdownError is recorded on jobs stopped by Shutdown
const shutdownError = "interrupted: application shutting down"

// ErrJobNotFound is returned for unknown job ids
var ErrJobNotFound = errors.New("job not found")

// ConversionRunner executes conversion jobs
type ConversionRunner interface {
	Run(ctx context.Context, jobID string, req model.ConversionRequest, report func(model.JobUpdate)) error
	Cancel(jobID string)
}

// DownloadRunner executes download jobs
type DownloadRunner interface {
	Run(ctx context.Context, jobID string, req model.DownloadRequest, report func(model.JobUpdate)) error
	Cancel(jobID string)
}

// PlaylistExpander lists the items of a playlist URL
type PlaylistExpander interface {
	Expand(ctx context.Context, url string) ([]model.PlaylistItem, error)
}

// Store persists the job history
type Store interface {
	LoadHistory() []model.Job
	SaveHistory(jobs []model.Job) error
}

// Options tunes the orchestrator
type Options struct {
	HistoryLimit int
	Now          func() time.Time
}

// Orchestrator is the single writer of the job table
type Orchestrator struct {
	conversions ConversionRunner
	downloads   DownloadRunner
	playlists   PlaylistExpander
	store       Store
	logger      *zap.Logger
	metrics     *metrics.Metrics
	limit       int
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	broker *broker

	mu   sync.RWMutex
	jobs map[string]model.Job
	// stops cancels the context handed to a job's runner; an entry lives
	// from creation until the runner returns
	stops map[string]context.CancelCauseFunc

	// persistMu orders history writes the same way as table updates
	persistMu sync.Mutex
}

// New creates an orchestrator and restores the persisted history. Jobs that
// were queued or running when the history was written are marked failed;
// they are never resumed. playlists and m may be nil.
func New(conversions ConversionRunner, downloads DownloadRunner, playlists PlaylistExpander, store Store, logger *zap.Logger, m *metrics.Metrics, opts Options) *Orchestrator {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		conversions: conversions,
		downloads:   downloads,
		playlists:   playlists,
		store:       store,
		logger:      logger.Named("jobs"),
		metrics:     m,
		limit:       opts.HistoryLimit,
		now:         opts.Now,
		ctx:         ctx,
		cancel:      cancel,
		broker:      newBroker(),
		jobs:        make(map[string]model.Job),
		stops:       make(map[string]context.CancelCauseFunc),
	}
	o.restore()
	return o
}

func (o *Orchestrator) restore() {
	history := o.store.LoadHistory()
	stale := 0
	now := o.now()
	for _, job := range history {
		if job.ID == "" {
			continue
		}
		if !job.Status.IsFinished() {
			job.Status = model.JobStatusFailed
			job.Error = InterruptedError
			job.Message = InterruptedError
			job.UpdatedAt = now
			stale++
		}
		o.jobs[job.ID] = job
	}
	o.evictLocked()

	if stale > 0 {
		o.logger.Info("Marked interrupted jobs as failed", zap.Int("count", stale))
		o.persist(o.historyLocked())
	}
	o.logger.Debug("History restored", zap.Int("jobs", len(o.jobs)))
}

// StartConversion registers a conversion job and dispatches it. Input errors
// are returned synchronously and no job is created.
func (o *Orchestrator) StartConversion(req model.ConversionRequest) (model.Job, error) {
	if err := req.Validate(); err != nil {
		return model.Job{}, err
	}
	if info, err := os.Stat(req.InputPath); err != nil || info.IsDir() {
		return model.Job{}, fmt.Errorf("%w: input file does not exist: %s", model.ErrInvalidInput, req.InputPath)
	}

	job, ctx := o.create(model.JobTypeConversion, model.JobDetails{Conversion: &req}, "")
	o.dispatch(ctx, job, func(ctx context.Context, report func(model.JobUpdate)) error {
		return o.conversions.Run(ctx, job.ID, req, report)
	})
	return job, nil
}

// StartDownload registers a download job and queues it
func (o *Orchestrator) StartDownload(req model.DownloadRequest) (model.Job, error) {
	return o.startDownload(req, "")
}

func (o *Orchestrator) startDownload(req model.DownloadRequest, title string) (model.Job, error) {
	if err := req.Validate(); err != nil {
		return model.Job{}, err
	}

	job, ctx := o.create(model.JobTypeDownload, model.JobDetails{Download: &req}, title)
	o.dispatch(ctx, job, func(ctx context.Context, report func(model.JobUpdate)) error {
		return o.downloads.Run(ctx, job.ID, req, report)
	})
	return job, nil
}

// StartPlaylist expands a playlist URL and queues one download job per item,
// in playlist order
func (o *Orchestrator) StartPlaylist(ctx context.Context, req model.DownloadRequest) ([]model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if o.playlists == nil {
		return nil, fmt.Errorf("%w: playlist expansion is not available", model.ErrInvalidInput)
	}

	items, err := o.playlists.Expand(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	started := make([]model.Job, 0, len(items))
	for _, item := range items {
		itemReq := req
		itemReq.URL = item.URL
		job, err := o.startDownload(itemReq, item.Title)
		if err != nil {
			o.logger.Warn("Skipping playlist item", zap.String("item", item.ID), zap.Error(err))
			continue
		}
		started = append(started, job)
	}
	o.logger.Info("Playlist queued", zap.String("url", req.URL), zap.Int("jobs", len(started)))
	return started, nil
}

// create registers a queued job together with the context its runner will
// get, so a cancel issued before the runner starts still reaches it
func (o *Orchestrator) create(typ model.JobType, details model.JobDetails, title string) (model.Job, context.Context) {
	now := o.now()
	job := model.Job{
		ID:        jobIDPrefix + uuid.Must(uuid.NewV7()).String(),
		Type:      typ,
		Status:    model.JobStatusQueued,
		Message:   "Queued",
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Details:   details,
	}

	ctx, stop := context.WithCancelCause(o.ctx)

	o.mu.Lock()
	o.jobs[job.ID] = job
	o.stops[job.ID] = stop
	o.evictLocked()
	o.broker.publish(job)
	history := o.historyLocked()
	o.persistMu.Lock()
	o.mu.Unlock()

	o.persist(history)
	o.persistMu.Unlock()

	if o.metrics != nil {
		o.metrics.JobsStarted.WithLabelValues(string(typ)).Inc()
	}
	o.logger.Info("Job created", zap.String("job_id", job.ID), zap.String("type", string(typ)))
	return job, ctx
}

func (o *Orchestrator) dispatch(ctx context.Context, job model.Job, run func(ctx context.Context, report func(model.JobUpdate)) error) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(job.ID)
		report := func(u model.JobUpdate) { o.Update(job.ID, u) }
		err := run(ctx, report)
		o.finish(ctx, job.ID, err)
	}()
}

// release drops the runner context of a job whose runner returned
func (o *Orchestrator) release(jobID string) {
	o.mu.Lock()
	stop, ok := o.stops[jobID]
	delete(o.stops, jobID)
	o.mu.Unlock()
	if ok {
		stop(nil)
	}
}

// finish records the runner's outcome. A nil error with the job still active
// means the runner gave up silently, which only happens on cancellation.
func (o *Orchestrator) finish(ctx context.Context, jobID string, err error) {
	if o.ctx.Err() != nil {
		o.Update(jobID, model.JobUpdate{
			Status:  model.JobStatusFailed,
			Message: shutdownError,
			Error:   shutdownError,
		})
		return
	}
	if err != nil && !errors.Is(context.Cause(ctx), model.ErrCancelled) {
		o.logger.Warn("Job failed", zap.String("job_id", jobID), zap.Error(err))
		o.Update(jobID, model.JobUpdate{
			Status:  model.JobStatusFailed,
			Message: err.Error(),
			Error:   err.Error(),
		})
		return
	}
	if job, ok := o.GetJob(jobID); ok && job.Status.IsActive() {
		o.Update(jobID, model.JobUpdate{Status: model.JobStatusCancelled, Message: "Cancelled"})
	}
}

// Update merges u into the job, persists the history and broadcasts the new
// record. It reports whether the job changed. Updates for unknown or
// finished jobs are ignored.
func (o *Orchestrator) Update(jobID string, u model.JobUpdate) (model.Job, bool) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return model.Job{}, false
	}
	next, changed := job.Apply(u, o.now())
	if !changed {
		o.mu.Unlock()
		return job, false
	}
	o.jobs[jobID] = next
	o.broker.publish(next)
	history := o.historyLocked()
	o.persistMu.Lock()
	o.mu.Unlock()

	o.persist(history)
	o.persistMu.Unlock()

	if next.Status.IsFinished() {
		if o.metrics != nil {
			o.metrics.JobsFinished.WithLabelValues(string(next.Type), string(next.Status)).Inc()
		}
		o.logger.Info("Job finished",
			zap.String("job_id", jobID),
			zap.String("status", next.Status.String()),
			zap.String("output", next.OutputFile),
		)
	}
	return next, true
}

// CancelJob asks the owning runner to stop the job and marks it cancelled
// without waiting for the process to exit. The runner's context is cancelled
// too, so a job whose runner has not started yet never starts. Finished jobs
// are left untouched.
func (o *Orchestrator) CancelJob(jobID string) (model.Job, error) {
	o.mu.RLock()
	job, ok := o.jobs[jobID]
	stop := o.stops[jobID]
	o.mu.RUnlock()
	if !ok {
		return model.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if !job.Status.IsActive() {
		return job, nil
	}

	if stop != nil {
		stop(model.ErrCancelled)
	}

	switch job.Type {
	case model.JobTypeConversion:
		o.conversions.Cancel(jobID)
	case model.JobTypeDownload:
		o.downloads.Cancel(jobID)
	}
	if next, changed := o.Update(jobID, model.JobUpdate{Status: model.JobStatusCancelled, Message: "Cancelled"}); changed {
		return next, nil
	}
	job, _ = o.GetJob(jobID)
	return job, nil
}

// GetJob returns the current record for jobID
func (o *Orchestrator) GetJob(jobID string) (model.Job, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	job, ok := o.jobs[jobID]
	return job, ok
}

// GetAllJobs returns every known job, newest first
func (o *Orchestrator) GetAllJobs() []model.Job {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sortedLocked()
}

// ClearHistory removes finished jobs and returns how many were dropped
func (o *Orchestrator) ClearHistory() int {
	o.mu.Lock()
	removed := 0
	for id, job := range o.jobs {
		if job.Status.IsFinished() {
			delete(o.jobs, id)
			removed++
		}
	}
	history := o.historyLocked()
	o.persistMu.Lock()
	o.mu.Unlock()

	o.persist(history)
	o.persistMu.Unlock()
	o.logger.Info("History cleared", zap.Int("removed", removed))
	return removed
}

// Subscribe returns a channel carrying the full record after every change
// and a func that detaches it. Records for one job arrive in update order.
func (o *Orchestrator) Subscribe() (<-chan model.Job, func()) {
	return o.broker.subscribe()
}

// Wait blocks until every dispatched runner returned
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown cancels running jobs, waits for their runners and closes all
// subscriptions. Jobs interrupted this way end as failed.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}
	o.broker.close()
	return nil
}

func (o *Orchestrator) persist(history []model.Job) {
	if err := o.store.SaveHistory(history); err != nil {
		o.logger.Error("Failed to persist job history", zap.Error(err))
	}
}

// evictLocked drops the oldest jobs by creation time until the table fits
// the limit. An evicted active job keeps running; its reports are ignored
// from then on and Shutdown still stops it.
func (o *Orchestrator) evictLocked() {
	if len(o.jobs) <= o.limit {
		return
	}
	sorted := o.sortedLocked()
	for _, job := range sorted[o.limit:] {
		delete(o.jobs, job.ID)
		if job.Status.IsActive() {
			o.logger.Warn("Evicted active job from history", zap.String("job_id", job.ID))
		}
	}
}

// historyLocked is the persisted view: the newest jobs up to the limit
func (o *Orchestrator) historyLocked() []model.Job {
	sorted := o.sortedLocked()
	if len(sorted) > o.limit {
		sorted = sorted[:o.limit]
	}
	return sorted
}

func (o *Orchestrator) sortedLocked() []model.Job {
	out := make([]model.Job, 0, len(o.jobs))
	for _, job := range o.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
