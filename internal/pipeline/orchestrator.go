package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/apresai/voiceover/internal/assembly"
	"github.com/apresai/voiceover/internal/progress"
	"github.com/apresai/voiceover/internal/script"
	"github.com/apresai/voiceover/internal/tts"
)

var tracer = otel.Tracer("voiceover-pipeline")

// NoAudioMessage is reported when every segment was skipped.
const NoAudioMessage = "No audio segments were generated"

// SynthesisError is a failed synthesis run. Trace holds the processing notes
// collected up to the failure.
type SynthesisError struct {
	Message string
	Trace   []string
	Err     error
}

func (e *SynthesisError) Error() string {
	return e.Message
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

type Options struct {
	DefaultVoiceID string
	OutputDir      string
}

// Orchestrator synthesizes a script segment by segment and stitches the
// clips into one file.
type Orchestrator struct {
	synth    tts.Synthesizer
	stitcher assembly.Stitcher
	opts     Options
	log      *slog.Logger
}

func NewOrchestrator(synth tts.Synthesizer, stitcher assembly.Stitcher, opts Options, log *slog.Logger) *Orchestrator {
	return &Orchestrator{synth: synth, stitcher: stitcher, opts: opts, log: log}
}

// SynthesizeAll calls the synthesizer once per non-empty segment, in order,
// and returns the path of the stitched output.
func (o *Orchestrator) SynthesizeAll(ctx context.Context, segments []script.Segment, onProgress progress.Callback) (string, error) {
	if onProgress == nil {
		onProgress = progress.NopCallback
	}
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.synthesize_all")
	defer span.End()
	span.SetAttributes(
		attribute.Int("segments", len(segments)),
		attribute.Int("text_chars", script.TotalChars(segments)),
	)

	trace := []string{fmt.Sprintf("Starting synthesis of %d segments", len(segments))}
	fail := func(msg string, err error) (string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return "", &SynthesisError{Message: msg, Trace: trace, Err: err}
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = strings.TrimSpace(seg.Text)
	}

	n := len(segments)
	var (
		clips      []assembly.Clip
		requestIDs []string
	)
	for i, seg := range segments {
		if texts[i] == "" {
			trace = append(trace, fmt.Sprintf("Skipping part %d: empty text", i))
			continue
		}
		voice := seg.Voice(o.opts.DefaultVoiceID)
		trace = append(trace,
			fmt.Sprintf("Processing part %d: %q", i, texts[i]),
			fmt.Sprintf("Using voice ID: %s", voice),
		)

		req := tts.Request{
			Text:               texts[i],
			VoiceID:            voice,
			PreviousRequestIDs: lastN(requestIDs, tts.MaxPreviousRequestIDs),
		}
		if i > 0 {
			prev := strings.Join(texts[:i], " ")
			req.PreviousText = &prev
		}
		if i < n-1 {
			next := strings.Join(texts[i+1:], " ")
			req.NextText = &next
		}

		res, err := o.synth.Synthesize(ctx, req)
		if err != nil {
			trace = append(trace, fmt.Sprintf("Part %d failed: %v", i, err))
			o.log.Error("segment synthesis failed", "part", i, "total", n, "error", err)
			return fail(err.Error(), err)
		}
		trace = append(trace, fmt.Sprintf("Request ID: %s", res.RequestID))
		if res.RequestID != "" {
			requestIDs = append(requestIDs, res.RequestID)
		}
		clips = append(clips, assembly.Clip{Audio: res.Audio, Format: res.Format, SampleRate: res.SampleRate})

		o.log.Debug("segment synthesized", "part", i, "total", n, "voice_id", voice, "bytes", len(res.Audio))
		e := progress.NewEvent(progress.StageSynthesize,
			fmt.Sprintf("Synthesized segment %d/%d", i+1, n), float64(i+1)/float64(n), start)
		e.SegmentNum = i + 1
		e.SegmentTotal = n
		// Completed counts synthesized clips, not positions, so skipped segments are excluded.
		e.Completed = len(clips)
		onProgress(e)
	}

	if len(clips) == 0 {
		return fail(NoAudioMessage, nil)
	}

	e := progress.NewEvent(progress.StageStitch, fmt.Sprintf("Stitching %d clips", len(clips)), 1, start)
	e.SegmentTotal = n
	e.Completed = len(clips)
	onProgress(e)
	path, err := o.stitcher.Stitch(ctx, clips, o.opts.OutputDir)
	if err != nil {
		trace = append(trace, fmt.Sprintf("Stitching failed: %v", err))
		return fail(fmt.Sprintf("stitch audio: %v", err), err)
	}
	trace = append(trace, fmt.Sprintf("Wrote %s", path))
	o.log.Info("audio stitched", "path", path, "clips", len(clips), "elapsed", time.Since(start).Round(time.Millisecond))
	span.SetAttributes(attribute.String("output_file", path))
	return path, nil
}

func lastN(ids []string, n int) []string {
	if len(ids) <= n {
		return append([]string(nil), ids...)
	}
	return append([]string(nil), ids[len(ids)-n:]...)
}
