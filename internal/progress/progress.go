package progress

import "time"

// Stage identifies which part of a job is active.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageSynthesize Stage = "synthesize"
	StageStitch     Stage = "stitch"
	StageComplete   Stage = "complete"
	StageFailed     Stage = "failed"
)

// Event carries progress information from the orchestrator to listeners
// (the job manager persists it, the CLI renders it).
type Event struct {
	Stage        Stage
	JobID        string
	Message      string
	Percent      float64 // 0.0–1.0
	SegmentNum   int
	SegmentTotal int
	// Completed is the number of segments synthesized so far.
	Completed int
	Elapsed   time.Duration
	Error     error
	// OutputFile is set on StageComplete with the final file path.
	OutputFile string
	// SizeMB is the output file size in MB, set on StageComplete.
	SizeMB float64
}

// Callback is the function signature for progress event handlers.
type Callback func(Event)

// NopCallback is a no-op progress callback for tests and silent mode.
func NopCallback(Event) {}

// NewEvent creates an Event with common fields populated.
func NewEvent(stage Stage, msg string, pct float64, start time.Time) Event {
	return Event{
		Stage:   stage,
		Message: msg,
		Percent: pct,
		Elapsed: time.Since(start),
	}
}

// Chain fans one event out to several callbacks, skipping nil ones.
func Chain(callbacks ...Callback) Callback {
	return func(e Event) {
		for _, cb := range callbacks {
			if cb != nil {
				cb(e)
			}
		}
	}
}
