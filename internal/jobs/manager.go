package jobs

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/apresai/voiceover/internal/jobstore"
	"github.com/apresai/voiceover/internal/observability"
	"github.com/apresai/voiceover/internal/progress"
	"github.com/apresai/voiceover/internal/script"
)

var tracer = otel.Tracer("voiceover-jobs")

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotCompleted      = errors.New("job has no completed artifact")
	ErrMirrorDisabled    = errors.New("artifact mirror is not configured")
)

// failTimeout bounds the final status write when the caller's context is gone.
const failTimeout = 5 * time.Second

// Synthesizer produces the stitched audio file for a script.
type Synthesizer interface {
	SynthesizeAll(ctx context.Context, segments []script.Segment, onProgress progress.Callback) (string, error)
}

// ArtifactMirror copies finished artifacts to remote storage.
type ArtifactMirror interface {
	Upload(ctx context.Context, jobID, path string) (string, error)
	Delete(ctx context.Context, jobID, path string) error
}

// DeleteSummary reports what DeleteJob removed.
type DeleteSummary struct {
	JobID           string `json:"job_id"`
	Found           bool   `json:"found"`
	FileRemoved     bool   `json:"file_removed"`
	ArtifactRemoved bool   `json:"artifact_removed"`
	Deleted         bool   `json:"deleted"`
}

// Manager runs jobs and records every status change in the store.
type Manager struct {
	store  jobstore.Store
	synth  Synthesizer
	mirror ArtifactMirror
	log    *slog.Logger
}

// NewManager creates a job manager. mirror may be nil.
func NewManager(store jobstore.Store, synth Synthesizer, mirror ArtifactMirror, logger *slog.Logger) *Manager {
	return &Manager{store: store, synth: synth, mirror: mirror, log: logger}
}

// NewJobID returns a new ULID-based job ID.
func NewJobID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate ulid: %w", err)
	}
	return id.String(), nil
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to jobstore.JobStatus) bool {
	if from.IsTerminal() {
		return false
	}
	switch from {
	case jobstore.JobStatusPending:
		return to == jobstore.JobStatusProcessing
	case jobstore.JobStatusProcessing:
		return to == jobstore.JobStatusCompleted || to == jobstore.JobStatusFailed
	default:
		return false
	}
}

func transition(job *jobstore.Job, to jobstore.JobStatus) error {
	if !CanTransition(job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}
	job.Status = to
	return nil
}

// CreateAndRun records a new job, synthesizes it and records the outcome.
// The final job is returned in both cases; on failure the error is returned
// after the failed status has been stored.
func (m *Manager) CreateAndRun(ctx context.Context, segments []script.Segment, onProgress progress.Callback) (*jobstore.Job, error) {
	if segments == nil {
		segments = []script.Segment{}
	}
	id, err := NewJobID()
	if err != nil {
		return nil, err
	}

	job := &jobstore.Job{
		ID:          id,
		Status:      jobstore.JobStatusPending,
		ScriptParts: segments,
		TotalParts:  len(segments),
	}
	if err := m.store.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	queued := progress.NewEvent(progress.StageQueued, "Job queued", 0, time.Now())
	queued.JobID = id
	queued.SegmentTotal = job.TotalParts
	notify(onProgress, queued)

	ctx, span := tracer.Start(ctx, "job.run",
		trace.WithAttributes(
			attribute.String("job_id", id),
			attribute.Int("total_parts", job.TotalParts),
		),
	)
	defer span.End()
	log := m.log.With("job_id", id)

	if err := transition(job, jobstore.JobStatusProcessing); err != nil {
		return job, err
	}
	if err := m.store.Update(ctx, job); err != nil {
		return job, fmt.Errorf("mark job processing: %w", err)
	}
	log.InfoContext(ctx, "Job started", "total_parts", job.TotalParts, "text_chars", script.TotalChars(segments))

	start := time.Now()
	path, runErr := m.synth.SynthesizeAll(ctx, segments, progress.Chain(m.trackProgress(ctx, job), withJobID(id, onProgress)))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "synthesis failed")
		log.ErrorContext(ctx, "Job failed", "error", runErr, "elapsed", time.Since(start).Round(time.Millisecond).String())

		job.Error = runErr.Error()
		if err := transition(job, jobstore.JobStatusFailed); err != nil {
			return job, err
		}
		if err := m.persistFinal(ctx, job); err != nil {
			return job, errors.Join(runErr, fmt.Errorf("mark job failed: %w", err))
		}
		notify(onProgress, progress.Event{Stage: progress.StageFailed, JobID: id, Message: job.Error, Error: runErr, Elapsed: time.Since(start)})
		return job, runErr
	}

	job.OutputFile = path
	job.CompletedParts = job.TotalParts
	if m.mirror != nil {
		url, err := m.mirror.Upload(ctx, id, path)
		if err != nil {
			log.WarnContext(ctx, "Artifact upload failed", "error", err)
		} else {
			job.ArtifactURL = url
		}
	}
	if err := transition(job, jobstore.JobStatusCompleted); err != nil {
		return job, err
	}
	if err := m.persistFinal(ctx, job); err != nil {
		return job, fmt.Errorf("mark job completed: %w", err)
	}

	var sizeMB float64
	if info, err := os.Stat(path); err == nil {
		sizeMB = float64(info.Size()) / (1024 * 1024)
	}
	span.SetAttributes(attribute.String("output_file", path), attribute.Float64("file_size_mb", sizeMB))
	span.SetStatus(codes.Ok, "complete")
	log.InfoContext(ctx, "Job complete", "output_file", path, "artifact_url", job.ArtifactURL, "elapsed", time.Since(start).Round(time.Millisecond).String())
	notify(onProgress, progress.Event{
		Stage:        progress.StageComplete,
		JobID:        id,
		Message:      "Audio generation complete",
		Percent:      1,
		SegmentTotal: job.TotalParts,
		Completed:    job.CompletedParts,
		OutputFile:   path,
		SizeMB:       sizeMB,
		Elapsed:      time.Since(start),
	})
	return job, nil
}

// persistFinal writes the terminal status, falling back to a short detached
// context when ctx is already cancelled.
func (m *Manager) persistFinal(ctx context.Context, job *jobstore.Job) error {
	if ctx.Err() != nil {
		detached, cancel := context.WithTimeout(observability.DetachTraceContext(ctx), failTimeout)
		defer cancel()
		m.log.InfoContext(ctx, "Recording final status after cancellation", "job_id", job.ID, "status", job.Status)
		return m.store.Update(detached, job)
	}
	return m.store.Update(ctx, job)
}

// trackProgress persists completed_parts as segments finish.
func (m *Manager) trackProgress(ctx context.Context, job *jobstore.Job) progress.Callback {
	return func(e progress.Event) {
		if e.Stage != progress.StageSynthesize || e.Completed <= job.CompletedParts {
			return
		}
		job.CompletedParts = e.Completed
		if err := m.store.Update(ctx, job); err != nil {
			m.log.WarnContext(ctx, "Update progress failed", "job_id", job.ID, "error", err)
		}
	}
}

func withJobID(id string, cb progress.Callback) progress.Callback {
	if cb == nil {
		return nil
	}
	return func(e progress.Event) {
		e.JobID = id
		cb(e)
	}
}

func notify(cb progress.Callback, e progress.Event) {
	if cb != nil {
		cb(e)
	}
}

// GetStatus returns the job with the given ID.
func (m *Manager) GetStatus(ctx context.Context, id string) (*jobstore.Job, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

// ListAll returns every job, newest first.
func (m *Manager) ListAll(ctx context.Context) ([]jobstore.Job, error) {
	return m.store.List(ctx)
}

// PublishJob uploads the artifact of a completed job to the mirror and
// records its URL. Publishing again overwrites the remote object.
func (m *Manager) PublishJob(ctx context.Context, id string) (*jobstore.Job, error) {
	if m.mirror == nil {
		return nil, ErrMirrorDisabled
	}
	job, err := m.GetStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != jobstore.JobStatusCompleted || job.OutputFile == "" {
		return job, fmt.Errorf("%w: %s is %s", ErrNotCompleted, id, job.Status)
	}

	url, err := m.mirror.Upload(ctx, id, job.OutputFile)
	if err != nil {
		return job, fmt.Errorf("publish job %s: %w", id, err)
	}
	job.ArtifactURL = url
	if err := m.store.Update(ctx, job); err != nil {
		return job, fmt.Errorf("record artifact url: %w", err)
	}
	m.log.InfoContext(ctx, "Job published", "job_id", id, "artifact_url", url)
	return job, nil
}

// DeleteJob removes a job's output file, its mirrored artifact and its
// record. File and artifact removal are best effort.
func (m *Manager) DeleteJob(ctx context.Context, id string) (DeleteSummary, error) {
	summary := DeleteSummary{JobID: id}
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return summary, err
	}
	if job == nil {
		return summary, nil
	}
	summary.Found = true
	log := m.log.With("job_id", id)

	if job.OutputFile != "" {
		err := os.Remove(job.OutputFile)
		switch {
		case err == nil:
			summary.FileRemoved = true
		case errors.Is(err, fs.ErrNotExist):
			log.InfoContext(ctx, "Output file already gone", "output_file", job.OutputFile)
		default:
			log.WarnContext(ctx, "Remove output file failed", "output_file", job.OutputFile, "error", err)
		}
	}

	if m.mirror != nil && job.ArtifactURL != "" {
		if err := m.mirror.Delete(ctx, id, job.OutputFile); err != nil {
			log.WarnContext(ctx, "Delete artifact failed", "error", err)
		} else {
			summary.ArtifactRemoved = true
		}
	}

	deleted, err := m.store.Delete(ctx, id)
	if err != nil {
		return summary, err
	}
	summary.Deleted = deleted
	log.InfoContext(ctx, "Job deleted", "file_removed", summary.FileRemoved)
	return summary, nil
}
