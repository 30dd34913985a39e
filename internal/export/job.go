// Package export provides the export Job aggregate, its repository and the
// Exporter that encodes a filtered composition to a file.
package export

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/filteredvideo/internal/export/id"
)

// Status represents the current state of an export Job.
type Status string

const (
	// StatusIdle indicates the job was created but encoding has not begun.
	StatusIdle Status = "IDLE"
	// StatusRunning indicates the composition is being encoded.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the output file was written successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the encoder reported an error.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the encode was stopped before finishing.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
// There are no retries: terminal states have no exits.
var validTransitions = map[Status][]Status{
	StatusIdle:      {StatusRunning},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job is one request to encode a filtered composition to a file.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// SourcePath is the video the composition was built from.
	SourcePath string
	// Filter names the effect applied to every frame.
	Filter string
	// Destination is the output file path.
	Destination string
	// Progress is the percentage of frames encoded (0-100).
	Progress int
	// Error contains the failure reason if the job failed.
	Error string
	// AssetID is the media library identifier once the output has been saved.
	AssetID string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when encoding started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID in IDLE status.
func New(sourcePath, filterName, destination string) *Job {
	j := NewWithID(id.Generate())
	j.SourcePath = sourcePath
	j.Filter = filterName
	j.Destination = destination
	return j
}

// NewWithID creates a new IDLE Job with the specified ID.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IDLE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED state.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED state with an error message.
// The message is only recorded when the transition is allowed.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// Settle applies the terminal transition described by r.
func (j *Job) Settle(r Result) error {
	switch r.Status {
	case StatusCompleted:
		if err := j.Complete(); err != nil {
			return err
		}
		j.UpdateProgress(100)
		return nil
	case StatusFailed:
		msg := "export failed"
		if r.Err != nil {
			msg = r.Err.Error()
		}
		return j.Fail(msg)
	case StatusCancelled:
		return j.Cancel()
	default:
		return ErrInvalidTransition
	}
}

// UpdateProgress sets the progress percentage, clamped to 0-100.
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
}

// SetAssetID records the library identifier of the saved output.
func (j *Job) SetAssetID(assetID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.AssetID = assetID
	j.UpdatedAt = time.Now()
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		Status:      j.Status,
		SourcePath:  j.SourcePath,
		Filter:      j.Filter,
		Destination: j.Destination,
		Progress:    j.Progress,
		Error:       j.Error,
		AssetID:     j.AssetID,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
