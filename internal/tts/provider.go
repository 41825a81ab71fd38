package tts

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// MaxPreviousRequestIDs is how much request history the API honors.
const MaxPreviousRequestIDs = 3

// Request is one synthesis call with its context conditioning.
type Request struct {
	Text    string
	VoiceID string
	// PreviousText and NextText are nil for the first and last segment.
	PreviousText *string
	NextText     *string
	// PreviousRequestIDs is omitted from the wire request when empty.
	PreviousRequestIDs []string
}

// Result is the output of a synthesis call.
type Result struct {
	Audio     []byte
	Format    AudioFormat
	RequestID string
	// SampleRate is set for raw PCM, which carries no header.
	SampleRate int
}

// AudioFormat is the container of the returned audio.
type AudioFormat string

const (
	FormatMP3 AudioFormat = "mp3"
	FormatWAV AudioFormat = "wav"
	FormatPCM AudioFormat = "pcm"
)

// FormatFromOutput maps an ElevenLabs output_format value (e.g. mp3_44100_128)
// to the container it produces.
func FormatFromOutput(outputFormat string) AudioFormat {
	switch {
	case strings.HasPrefix(outputFormat, "wav"):
		return FormatWAV
	case strings.HasPrefix(outputFormat, "pcm"):
		return FormatPCM
	default:
		return FormatMP3
	}
}

// SampleRateFromOutput extracts the rate from values like pcm_24000, or 0.
func SampleRateFromOutput(outputFormat string) int {
	parts := strings.Split(outputFormat, "_")
	if len(parts) < 2 {
		return 0
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return rate
}

// Synthesizer turns text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Result, error)
}

// APIError is a non-2xx response from the synthesis API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Failed to generate audio (status %d): %s", e.StatusCode, e.Body)
}
