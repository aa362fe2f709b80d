package model

// JobStatus represents the lifecycle state of a conversion or download job
type JobStatus string

const (
	// JobStatusQueued means the job is registered but its process has not started
	JobStatusQueued JobStatus = "queued"

	// JobStatusRunning means the underlying process is running
	JobStatusRunning JobStatus = "running"

	// JobStatusPaused is reserved; nothing produces it yet
	JobStatusPaused JobStatus = "paused"

	// JobStatusCompleted means the job finished successfully
	JobStatusCompleted JobStatus = "completed"

	// JobStatusFailed means the job finished with an error
	JobStatusFailed JobStatus = "failed"

	// JobStatusCancelled means the job was cancelled by the operator
	JobStatusCancelled JobStatus = "cancelled"
)

// String returns the string representation of JobStatus
func (s JobStatus) String() string {
	return string(s)
}

// IsActive returns true if the job can still make progress or be cancelled
func (s JobStatus) IsActive() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// IsFinished returns true if the job reached a terminal state
func (s JobStatus) IsFinished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsValid reports whether s is one of the known statuses
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusPaused,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// rank orders statuses along the lifecycle; transitions never go backwards.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusRunning, JobStatusPaused:
		return 1
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether a job in status s may move to next.
// Terminal statuses accept nothing; the cancellation edge is open from any
// active status.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsFinished() || !next.IsValid() {
		return false
	}
	if next == JobStatusCancelled {
		return true
	}
	return next.rank() >= s.rank()
}

// JobType distinguishes the runner that owns a job
type JobType string

const (
	JobTypeConversion JobType = "conversion"
	JobTypeDownload   JobType = "download"
)
