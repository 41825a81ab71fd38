package jobstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/apresai/voiceover/internal/script"
)

// JobStatus represents the state of an audio generation job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition may follow s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the durable record of one audio generation request.
type Job struct {
	ID             string           `json:"id"`
	Status         JobStatus        `json:"status"`
	ScriptParts    []script.Segment `json:"script_parts"`
	OutputFile     string           `json:"output_file,omitempty"`
	ArtifactURL    string           `json:"artifact_url,omitempty"`
	Error          string           `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	TotalParts     int              `json:"total_parts"`
	CompletedParts int              `json:"completed_parts"`
}

var (
	// ErrNotFound is returned by Update when no record has the job's id.
	ErrNotFound = errors.New("job not found")
	// ErrDuplicateKey is returned by Insert when the id is already taken.
	ErrDuplicateKey = errors.New("job id already exists")
)

// StorageError wraps a failure of the persistence backend.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("job store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
