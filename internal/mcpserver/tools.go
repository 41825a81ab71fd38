package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/apresai/voiceover/internal/jobs"
	"github.com/apresai/voiceover/internal/jobstore"
	"github.com/apresai/voiceover/internal/pipeline"
	"github.com/apresai/voiceover/internal/progress"
	"github.com/apresai/voiceover/internal/script"
)

var tracer = otel.Tracer("voiceover-mcp")

// Tool names.
const (
	ToolGenerateSimple = "generate_audio_simple"
	ToolGenerateScript = "generate_audio_script"
	ToolDeleteJob      = "delete_job"
	ToolGetJob         = "get_job"
	ToolListJobs       = "list_jobs"
)

// JobService is the job lifecycle used by the tool handlers.
type JobService interface {
	CreateAndRun(ctx context.Context, segments []script.Segment, onProgress progress.Callback) (*jobstore.Job, error)
	GetStatus(ctx context.Context, id string) (*jobstore.Job, error)
	ListAll(ctx context.Context) ([]jobstore.Job, error)
	DeleteJob(ctx context.Context, id string) (jobs.DeleteSummary, error)
}

// ToolDefs returns the MCP tool definitions.
func ToolDefs() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        ToolGenerateSimple,
			Description: "Generate audio from plain text using a single voice. Returns the status and the audio file.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"text": map[string]any{
						"type":        "string",
						"description": "The text to convert to speech",
					},
					"voice_id": map[string]any{
						"type":        "string",
						"description": "Voice ID to use (defaults to the configured voice)",
					},
				},
				Required: []string{"text"},
			},
		},
		{
			Name:        ToolGenerateScript,
			Description: "Generate audio from a script with multiple voices and actors. The script is a JSON array of {text, voice_id?, actor?} objects, an object with a \"script\" array, or plain text.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"script": map[string]any{
						"type":        "string",
						"description": "JSON script (array or {\"script\": [...]}) or plain text",
					},
				},
				Required: []string{"script"},
			},
		},
		{
			Name:        ToolDeleteJob,
			Description: "Delete a voiceover job and its audio file.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"job_id": map[string]any{
						"type":        "string",
						"description": "ID of the job to delete",
					},
				},
				Required: []string{"job_id"},
			},
		},
		{
			Name:        ToolGetJob,
			Description: "Get the status and details of a voiceover job by ID.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"job_id": map[string]any{
						"type":        "string",
						"description": "The job ID",
					},
				},
				Required: []string{"job_id"},
			},
		},
		{
			Name:        ToolListJobs,
			Description: "List all voiceover jobs, newest first.",
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]any{},
			},
		},
	}
}

// Handlers contains tool and resource handler implementations.
type Handlers struct {
	jobs JobService
	log  *slog.Logger
}

// NewHandlers creates tool handlers.
func NewHandlers(jobs JobService, logger *slog.Logger) *Handlers {
	return &Handlers{jobs: jobs, log: logger}
}

// HandleGenerateSimple synthesizes a single-voice job from plain text.
func (h *Handlers) HandleGenerateSimple(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.generate_audio_simple")
	defer span.End()

	text := strings.TrimSpace(mcp.ParseString(req, "text", ""))
	if text == "" {
		span.SetStatus(codes.Error, "missing text")
		return mcp.NewToolResultError("text is required"), nil
	}
	seg := script.Segment{Text: text}
	if voice := strings.TrimSpace(mcp.ParseString(req, "voice_id", "")); voice != "" {
		seg.VoiceID = &voice
	}
	span.SetAttributes(attribute.Int("text_chars", len(text)))

	return h.generate(ctx, req, []script.Segment{seg}), nil
}

// HandleGenerateScript parses a script and synthesizes it.
func (h *Handlers) HandleGenerateScript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.generate_audio_script")
	defer span.End()

	raw, err := scriptArgument(req)
	if err != nil {
		span.SetStatus(codes.Error, "bad script argument")
		return mcp.NewToolResultError(err.Error()), nil
	}

	segments, trace, err := script.ParseWithTrace(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		h.log.InfoContext(ctx, "Script rejected", "error", err)
		var parseErr *script.ParseError
		if errors.As(err, &parseErr) {
			trace = parseErr.Trace
		}
		return mcp.NewToolResultError(failureText(err.Error(), trace)), nil
	}
	span.SetAttributes(attribute.Int("segments", len(segments)))

	return h.generate(ctx, req, segments), nil
}

// scriptArgument accepts the script as a string or, for clients that send
// structured arguments, as a JSON value.
func scriptArgument(req mcp.CallToolRequest) (string, error) {
	args := req.GetArguments()
	raw, ok := args["script"]
	if !ok || raw == nil {
		return "", fmt.Errorf("script is required")
	}
	if s, ok := raw.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("invalid script argument: %v", err)
	}
	return string(data), nil
}

func (h *Handlers) generate(ctx context.Context, req mcp.CallToolRequest, segments []script.Segment) *mcp.CallToolResult {
	auth := AuthFromContext(ctx)
	h.log.InfoContext(ctx, "Audio generation requested", "segments", len(segments), "authenticated", auth.Authenticated, "key_id", auth.KeyID)

	job, err := h.jobs.CreateAndRun(ctx, segments, progressNotifier(ctx, req, h.log))
	if err != nil {
		var synthErr *pipeline.SynthesisError
		var trace []string
		msg := err.Error()
		if errors.As(err, &synthErr) {
			msg = synthErr.Message
			trace = synthErr.Trace
		}
		if job != nil {
			trace = append(trace, "Job ID: "+job.ID)
		}
		return mcp.NewToolResultError(failureText(msg, trace))
	}

	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(fmt.Sprintf("Audio generation successful. File saved as: %s", job.OutputFile)),
		},
	}
	data, err := os.ReadFile(job.OutputFile)
	if err != nil {
		h.log.WarnContext(ctx, "Read output for embedding failed", "job_id", job.ID, "error", err)
		return result
	}
	result.Content = append(result.Content, mcp.NewEmbeddedResource(mcp.BlobResourceContents{
		URI:      "audio://" + job.ID,
		MIMEType: audioMIMEType(job.OutputFile),
		Blob:     base64.StdEncoding.EncodeToString(data),
	}))
	return result
}

// progressNotifier forwards job progress to the client when the call carried
// a progress token.
func progressNotifier(ctx context.Context, req mcp.CallToolRequest, logger *slog.Logger) progress.Callback {
	if req.Params.Meta == nil || req.Params.Meta.ProgressToken == nil {
		return nil
	}
	srv := server.ServerFromContext(ctx)
	if srv == nil {
		return nil
	}
	token := req.Params.Meta.ProgressToken
	return func(e progress.Event) {
		params := map[string]any{
			"progressToken": token,
			"progress":      e.Completed,
			"message":       e.Message,
		}
		if e.SegmentTotal > 0 {
			params["total"] = e.SegmentTotal
		}
		if err := srv.SendNotificationToClient(ctx, "notifications/progress", params); err != nil {
			logger.DebugContext(ctx, "Progress notification failed", "error", err)
		}
	}
}

// failureText renders the status line followed by the diagnostic trace.
func failureText(msg string, trace []string) string {
	text := "Error generating audio: " + msg
	if len(trace) > 0 {
		text += "\n\nDebug info:\n" + strings.Join(trace, "\n")
	}
	return text
}

func audioMIMEType(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		return "audio/mpeg"
	}
	return "audio/wav"
}

// HandleDeleteJob removes a job and its audio file.
func (h *Handlers) HandleDeleteJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.delete_job")
	defer span.End()

	id := strings.TrimSpace(mcp.ParseString(req, "job_id", ""))
	if id == "" {
		span.SetStatus(codes.Error, "missing job_id")
		return mcp.NewToolResultError("job_id is required"), nil
	}
	span.SetAttributes(attribute.String("job_id", id))

	summary, err := h.jobs.DeleteJob(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return mcp.NewToolResultError(fmt.Sprintf("Error deleting job: %v", err)), nil
	}
	if !summary.Found {
		return mcp.NewToolResultText(fmt.Sprintf("Job %s not found", id)), nil
	}

	msg := fmt.Sprintf("Job %s deleted successfully", id)
	if summary.FileRemoved {
		msg += " (audio file removed)"
	}
	return mcp.NewToolResultText(msg), nil
}

// HandleGetJob returns one job record as JSON.
func (h *Handlers) HandleGetJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.get_job")
	defer span.End()

	id := strings.TrimSpace(mcp.ParseString(req, "job_id", ""))
	if id == "" {
		span.SetStatus(codes.Error, "missing job_id")
		return mcp.NewToolResultError("job_id is required"), nil
	}
	span.SetAttributes(attribute.String("job_id", id))

	payload, err := h.jobPayload(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get job failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to get job: %v", err)), nil
	}
	return jsonResult(payload)
}

// HandleListJobs returns all jobs as JSON, newest first.
func (h *Handlers) HandleListJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.list_jobs")
	defer span.End()

	all, err := h.jobs.ListAll(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list jobs failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to list jobs: %v", err)), nil
	}
	span.SetAttributes(attribute.Int("result_count", len(all)))
	return jsonResult(all)
}

// jobPayload returns the job, or the not-found payload when it does not exist.
func (h *Handlers) jobPayload(ctx context.Context, id string) (any, error) {
	job, err := h.jobs.GetStatus(ctx, id)
	if errors.Is(err, jobs.ErrJobNotFound) {
		return notFoundPayload{Error: "Job not found", JobID: id}, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

type notFoundPayload struct {
	Error string `json:"error"`
	JobID string `json:"job_id"`
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
