package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apresai/voiceover/internal/jobstore"
	"github.com/apresai/voiceover/internal/pipeline"
	"github.com/apresai/voiceover/internal/progress"
	"github.com/apresai/voiceover/internal/script"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) jobstore.Store {
	t.Helper()
	s, err := jobstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "jobs.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeSynth writes a file per run and reports one progress event per
// segment. During runs it snapshots the stored job.
type fakeSynth struct {
	dir       string
	err       error
	store     jobstore.Store
	snapshots []jobstore.Job
	cancel    context.CancelFunc
}

func (f *fakeSynth) SynthesizeAll(ctx context.Context, segments []script.Segment, onProgress progress.Callback) (string, error) {
	for i := range segments {
		onProgress(progress.Event{Stage: progress.StageSynthesize, SegmentNum: i + 1, SegmentTotal: len(segments), Completed: i + 1})
		if f.store != nil {
			jobs, err := f.store.List(ctx)
			if err == nil && len(jobs) > 0 {
				f.snapshots = append(f.snapshots, jobs[0])
			}
		}
	}
	if f.cancel != nil {
		f.cancel()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	if len(segments) == 0 {
		return "", &pipeline.SynthesisError{Message: pipeline.NoAudioMessage}
	}
	path := filepath.Join(f.dir, "full_audio_20260301000000.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type fakeMirror struct {
	uploaded []string
	deleted  []string
	err      error
}

func (f *fakeMirror) Upload(_ context.Context, jobID, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploaded = append(f.uploaded, jobID)
	return "https://cdn.example.com/audio/" + jobID + ".wav", nil
}

func (f *fakeMirror) Delete(_ context.Context, jobID, _ string) error {
	f.deleted = append(f.deleted, jobID)
	return f.err
}

func segments(texts ...string) []script.Segment {
	out := make([]script.Segment, len(texts))
	for i, t := range texts {
		out[i] = script.Segment{Text: t}
	}
	return out
}

func TestCreateAndRunSuccess(t *testing.T) {
	store := openStore(t)
	synth := &fakeSynth{dir: t.TempDir(), store: store}
	m := NewManager(store, synth, nil, quietLogger())

	var events []progress.Event
	job, err := m.CreateAndRun(context.Background(), segments("Hi", "Hi back"), func(e progress.Event) {
		events = append(events, e)
	})
	require.NoError(t, err)
	assert.Len(t, job.ID, 26)
	assert.Equal(t, jobstore.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.TotalParts)
	assert.Equal(t, 2, job.CompletedParts)
	assert.FileExists(t, job.OutputFile)

	stored, err := m.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.JobStatusCompleted, stored.Status)
	assert.Equal(t, job.OutputFile, stored.OutputFile)
	assert.Empty(t, stored.Error)

	require.Len(t, synth.snapshots, 2)
	assert.Equal(t, jobstore.JobStatusProcessing, synth.snapshots[0].Status)
	assert.Equal(t, 1, synth.snapshots[0].CompletedParts)
	assert.Equal(t, 2, synth.snapshots[1].CompletedParts)

	require.NotEmpty(t, events)
	assert.Equal(t, progress.StageQueued, events[0].Stage)
	assert.Equal(t, 2, events[0].SegmentTotal)
	last := events[len(events)-1]
	assert.Equal(t, progress.StageComplete, last.Stage)
	assert.Equal(t, job.ID, last.JobID)
	for _, e := range events {
		assert.Equal(t, job.ID, e.JobID)
	}
}

func TestCreateAndRunFailureIsRecorded(t *testing.T) {
	store := openStore(t)
	runErr := &pipeline.SynthesisError{Message: "Failed to generate audio (status 401): invalid_api_key"}
	m := NewManager(store, &fakeSynth{err: runErr}, nil, quietLogger())

	job, err := m.CreateAndRun(context.Background(), segments("a"), nil)
	require.Error(t, err)

	var synthErr *pipeline.SynthesisError
	require.True(t, errors.As(err, &synthErr))
	require.NotNil(t, job)
	assert.Equal(t, jobstore.JobStatusFailed, job.Status)

	stored, err := m.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.JobStatusFailed, stored.Status)
	assert.Equal(t, runErr.Message, stored.Error)
	assert.Empty(t, stored.OutputFile)
}

func TestCreateAndRunEmptyScriptFails(t *testing.T) {
	store := openStore(t)
	m := NewManager(store, &fakeSynth{}, nil, quietLogger())

	job, err := m.CreateAndRun(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, jobstore.JobStatusFailed, job.Status)
	assert.Equal(t, 0, job.TotalParts)
	assert.Equal(t, pipeline.NoAudioMessage, job.Error)
}

func TestCreateAndRunCancelledStillRecordsFailure(t *testing.T) {
	store := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(store, &fakeSynth{cancel: cancel}, nil, quietLogger())

	job, err := m.CreateAndRun(ctx, segments("a"), nil)
	require.ErrorIs(t, err, context.Canceled)

	stored, err := m.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.JobStatusFailed, stored.Status)
}

func TestCreateAndRunMirrorsArtifact(t *testing.T) {
	store := openStore(t)
	mirror := &fakeMirror{}
	m := NewManager(store, &fakeSynth{dir: t.TempDir()}, mirror, quietLogger())

	job, err := m.CreateAndRun(context.Background(), segments("a"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, mirror.uploaded)
	assert.Equal(t, "https://cdn.example.com/audio/"+job.ID+".wav", job.ArtifactURL)

	summary, err := m.DeleteJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, summary.ArtifactRemoved)
	assert.Equal(t, []string{job.ID}, mirror.deleted)
}

func TestCreateAndRunMirrorFailureKeepsJob(t *testing.T) {
	store := openStore(t)
	m := NewManager(store, &fakeSynth{dir: t.TempDir()}, &fakeMirror{err: errors.New("denied")}, quietLogger())

	job, err := m.CreateAndRun(context.Background(), segments("a"), nil)
	require.NoError(t, err)
	assert.Equal(t, jobstore.JobStatusCompleted, job.Status)
	assert.Empty(t, job.ArtifactURL)
}

func TestPublishJob(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	unmirrored := NewManager(store, &fakeSynth{dir: t.TempDir()}, nil, quietLogger())
	job, err := unmirrored.CreateAndRun(ctx, segments("a"), nil)
	require.NoError(t, err)
	_, err = unmirrored.PublishJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrMirrorDisabled)

	mirror := &fakeMirror{}
	m := NewManager(store, &fakeSynth{err: errors.New("boom")}, mirror, quietLogger())
	published, err := m.PublishJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/audio/"+job.ID+".wav", published.ArtifactURL)

	stored, err := m.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, published.ArtifactURL, stored.ArtifactURL)

	failed, _ := m.CreateAndRun(ctx, segments("b"), nil)
	_, err = m.PublishJob(ctx, failed.ID)
	assert.ErrorIs(t, err, ErrNotCompleted)

	_, err = m.PublishJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGetStatusNotFound(t *testing.T) {
	m := NewManager(openStore(t), &fakeSynth{}, nil, quietLogger())
	_, err := m.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestListAllNewestFirst(t *testing.T) {
	store := openStore(t)
	m := NewManager(store, &fakeSynth{dir: t.TempDir()}, nil, quietLogger())

	first, err := m.CreateAndRun(context.Background(), segments("a"), nil)
	require.NoError(t, err)
	second, err := m.CreateAndRun(context.Background(), segments("b"), nil)
	require.NoError(t, err)

	all, err := m.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)
}

func TestDeleteJob(t *testing.T) {
	store := openStore(t)
	m := NewManager(store, &fakeSynth{dir: t.TempDir()}, nil, quietLogger())
	ctx := context.Background()

	job, err := m.CreateAndRun(ctx, segments("a"), nil)
	require.NoError(t, err)

	summary, err := m.DeleteJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, DeleteSummary{JobID: job.ID, Found: true, FileRemoved: true, Deleted: true}, summary)
	assert.NoFileExists(t, job.OutputFile)

	_, err = m.GetStatus(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	summary, err = m.DeleteJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, summary.Found)
}

func TestDeleteJobToleratesMissingFile(t *testing.T) {
	store := openStore(t)
	m := NewManager(store, &fakeSynth{dir: t.TempDir()}, nil, quietLogger())
	ctx := context.Background()

	job, err := m.CreateAndRun(ctx, segments("a"), nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(job.OutputFile))

	summary, err := m.DeleteJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, summary.Found)
	assert.False(t, summary.FileRemoved)
	assert.True(t, summary.Deleted)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to jobstore.JobStatus
		want     bool
	}{
		{jobstore.JobStatusPending, jobstore.JobStatusProcessing, true},
		{jobstore.JobStatusPending, jobstore.JobStatusCompleted, false},
		{jobstore.JobStatusProcessing, jobstore.JobStatusCompleted, true},
		{jobstore.JobStatusProcessing, jobstore.JobStatusFailed, true},
		{jobstore.JobStatusProcessing, jobstore.JobStatusPending, false},
		{jobstore.JobStatusCompleted, jobstore.JobStatusFailed, false},
		{jobstore.JobStatusFailed, jobstore.JobStatusProcessing, false},
		{jobstore.JobStatusCompleted, jobstore.JobStatusCompleted, false},
		{jobstore.JobStatusFailed, jobstore.JobStatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
			if tt.from.IsTerminal() {
				assert.False(t, tt.want, "terminal states never move")
			}
		})
	}
}

func TestNewJobIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id, err := NewJobID()
		require.NoError(t, err)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
