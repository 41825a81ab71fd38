package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("voiceover-tts")

const requestIDHeader = "request-id"

type elevenLabsRequest struct {
	Text               string                 `json:"text"`
	ModelID            string                 `json:"model_id"`
	VoiceSettings      *elevenLabsVoiceParams `json:"voice_settings,omitempty"`
	PreviousText       *string                `json:"previous_text,omitempty"`
	NextText           *string                `json:"next_text,omitempty"`
	PreviousRequestIDs []string               `json:"previous_request_ids,omitempty"`
}

type elevenLabsVoiceParams struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
}

// ElevenLabsOptions configures the ElevenLabs client.
type ElevenLabsOptions struct {
	APIKey          string
	BaseURL         string
	ModelID         string
	Stability       float64
	SimilarityBoost float64
	Style           float64
	OutputFormat    string
	Timeout         time.Duration
	// RateLimit caps requests per second across all jobs; 0 disables it.
	RateLimit float64
}

// ElevenLabsProvider implements Synthesizer using the ElevenLabs TTS API.
type ElevenLabsProvider struct {
	opts       ElevenLabsOptions
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewElevenLabsProvider(opts ElevenLabsOptions) *ElevenLabsProvider {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.elevenlabs.io/v1"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return &ElevenLabsProvider{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    limiter,
	}
}

func (p *ElevenLabsProvider) Format() AudioFormat {
	return FormatFromOutput(p.opts.OutputFormat)
}

func (p *ElevenLabsProvider) Synthesize(ctx context.Context, sreq Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "tts.synthesize")
	defer span.End()
	span.SetAttributes(
		attribute.String("voice_id", sreq.VoiceID),
		attribute.Int("text_chars", len(sreq.Text)),
		attribute.Int("previous_request_ids", len(sreq.PreviousRequestIDs)),
	)

	reqBody := elevenLabsRequest{
		Text:    sreq.Text,
		ModelID: p.opts.ModelID,
		VoiceSettings: &elevenLabsVoiceParams{
			Stability:       p.opts.Stability,
			SimilarityBoost: p.opts.SimilarityBoost,
			Style:           p.opts.Style,
		},
		PreviousText: sreq.PreviousText,
		NextText:     sreq.NextText,
	}
	if ids := sreq.PreviousRequestIDs; len(ids) > 0 {
		if len(ids) > MaxPreviousRequestIDs {
			ids = ids[len(ids)-MaxPreviousRequestIDs:]
		}
		reqBody.PreviousRequestIDs = ids
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s", strings.TrimRight(p.opts.BaseURL, "/"), url.PathEscape(sreq.VoiceID))
	if p.opts.OutputFormat != "" {
		endpoint += "?output_format=" + url.QueryEscape(p.opts.OutputFormat)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("xi-api-key", p.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptHeader(p.Format()))

	res, err := p.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send request failed")
		return Result{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		errBody, _ := io.ReadAll(res.Body)
		apiErr := &APIError{StatusCode: res.StatusCode, Body: string(errBody)}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, "api error")
		return Result{}, apiErr
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	requestID := res.Header.Get(requestIDHeader)
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.Int("audio_bytes", len(data)),
	)
	result := Result{Audio: data, Format: p.Format(), RequestID: requestID}
	if result.Format == FormatPCM {
		result.SampleRate = SampleRateFromOutput(p.opts.OutputFormat)
	}
	return result, nil
}

func acceptHeader(f AudioFormat) string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatPCM:
		return "application/octet-stream"
	default:
		return "audio/mpeg"
	}
}
