package model

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidInput marks request validation failures. They are reported to the
// caller synchronously and never retried.
var ErrInvalidInput = errors.New("invalid input")

// ErrCancelled is the cancellation cause for operator-initiated stops. Runners
// resolve a job stopped with this cause silently.
var ErrCancelled = errors.New("cancelled by operator")

// Quality selects the bitrate tier for a conversion
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// DownloadMode selects which streams a download keeps
type DownloadMode string

const (
	DownloadModeBest  DownloadMode = "best"
	DownloadModeAudio DownloadMode = "audio"
	DownloadModeVideo DownloadMode = "video"
)

// ConversionRequest describes one offline transcode. It is immutable once
// submitted.
type ConversionRequest struct {
	InputPath  string  `json:"inputPath"`
	OutputPath string  `json:"outputPath"`
	Format     string  `json:"format"`
	Quality    Quality `json:"quality,omitempty"`
}

// Validate checks required fields and normalizes nothing.
func (r ConversionRequest) Validate() error {
	if strings.TrimSpace(r.InputPath) == "" {
		return fmt.Errorf("%w: input path is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.OutputPath) == "" {
		return fmt.Errorf("%w: output path is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.Format) == "" {
		return fmt.Errorf("%w: target format is required", ErrInvalidInput)
	}
	switch r.Quality {
	case "", QualityLow, QualityMedium, QualityHigh:
	default:
		return fmt.Errorf("%w: unknown quality %q", ErrInvalidInput, r.Quality)
	}
	return nil
}

// DownloadRequest describes one URL fetch. OutputPath is a template: a
// directory, a concrete file path, or a path containing %(title)s / %(ext)s.
type DownloadRequest struct {
	URL        string       `json:"url"`
	OutputPath string       `json:"outputPath"`
	Mode       DownloadMode `json:"mode,omitempty"`
}

// Validate checks required fields.
func (r DownloadRequest) Validate() error {
	u := strings.TrimSpace(r.URL)
	if u == "" {
		return fmt.Errorf("%w: source URL is required", ErrInvalidInput)
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("%w: unsupported URL %q", ErrInvalidInput, u)
	}
	if strings.TrimSpace(r.OutputPath) == "" {
		return fmt.Errorf("%w: output path is required", ErrInvalidInput)
	}
	switch r.Mode {
	case "", DownloadModeBest, DownloadModeAudio, DownloadModeVideo:
	default:
		return fmt.Errorf("%w: unknown download mode %q", ErrInvalidInput, r.Mode)
	}
	return nil
}

// JobDetails holds the original request; exactly one field is set.
type JobDetails struct {
	Conversion *ConversionRequest `json:"conversion,omitempty"`
	Download   *DownloadRequest   `json:"download,omitempty"`
}

// Job is a tracked unit of background work. Jobs are passed by value; the
// orchestrator replaces the stored copy on every update.
type Job struct {
	ID         string     `json:"id"`
	Type       JobType    `json:"type"`
	Status     JobStatus  `json:"status"`
	Progress   float64    `json:"progress"` // 0 to 100
	Message    string     `json:"message,omitempty"`
	Title      string     `json:"title,omitempty"`
	OutputFile string     `json:"outputFile,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	Details    JobDetails `json:"details"`
}

// JobUpdate is a partial job record reported by a runner. Zero fields are
// left untouched by Apply.
type JobUpdate struct {
	Status     JobStatus
	Progress   float64
	Message    string
	Title      string
	OutputFile string
	Error      string
}

// Apply merges u into a copy of j. It returns the new record and whether
// anything changed. Updates to finished jobs are dropped, status never moves
// backwards, progress never decreases and OutputFile is written only once.
func (j Job) Apply(u JobUpdate, now time.Time) (Job, bool) {
	if j.Status.IsFinished() {
		return j, false
	}

	next := j
	if u.Status != "" && u.Status != j.Status && j.Status.CanTransition(u.Status) {
		next.Status = u.Status
	}
	if u.Progress > next.Progress {
		next.Progress = min(u.Progress, 100)
	}
	if next.Status == JobStatusCompleted {
		next.Progress = 100
	}
	if u.Message != "" {
		next.Message = u.Message
	}
	if u.Title != "" {
		next.Title = u.Title
	}
	if u.OutputFile != "" && next.OutputFile == "" {
		next.OutputFile = u.OutputFile
	}
	if u.Error != "" {
		next.Error = u.Error
	}

	if next == j {
		return j, false
	}
	next.UpdatedAt = now
	return next, true
}

// GetDisplayTitle returns title, output file name, or the request source in
// order of preference
func (j Job) GetDisplayTitle() string {
	if j.Title != "" {
		return j.Title
	}

	if j.OutputFile != "" {
		name := filepath.Base(j.OutputFile)
		if ext := filepath.Ext(name); ext != "" && len(name) > len(ext) {
			name = strings.TrimSuffix(name, ext)
		}
		return name
	}

	switch {
	case j.Details.Conversion != nil:
		return filepath.Base(j.Details.Conversion.InputPath)
	case j.Details.Download != nil:
		return j.Details.Download.URL
	}
	return j.ID
}

// PlaylistItem is one entry of a remote playlist
type PlaylistItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}
