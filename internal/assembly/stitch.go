package assembly

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"

	"github.com/apresai/voiceover/internal/tts"
)

// Output file naming and encoding constants.
const (
	OutputPrefix    = "full_audio_"
	OutputExt       = ".wav"
	OutputPrecision = 2 // 16-bit
	ResampleQuality = 4
	timestampLayout = "20060102150405"
)

// Clip is one synthesized segment as returned by the synthesis API.
type Clip struct {
	Audio  []byte
	Format tts.AudioFormat
	// SampleRate is required for raw PCM clips.
	SampleRate int
}

// Stitcher joins clips into one audio file and returns its path.
type Stitcher interface {
	Stitch(ctx context.Context, clips []Clip, outputDir string) (string, error)
}

// WAVStitcher decodes every clip, concatenates the samples in order and
// writes a single WAV file. Clips whose rate differs from the first clip are
// resampled to it.
type WAVStitcher struct {
	now func() time.Time
}

func NewWAVStitcher() *WAVStitcher {
	return &WAVStitcher{now: time.Now}
}

func (s *WAVStitcher) Stitch(ctx context.Context, clips []Clip, outputDir string) (string, error) {
	if len(clips) == 0 {
		return "", fmt.Errorf("no audio clips to stitch")
	}

	var (
		buf    *beep.Buffer
		format beep.Format
	)
	for i, clip := range clips {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		streamer, clipFormat, err := decodeClip(clip)
		if err != nil {
			return "", fmt.Errorf("decode clip %d: %w", i+1, err)
		}
		if buf == nil {
			format = beep.Format{
				SampleRate:  clipFormat.SampleRate,
				NumChannels: clipFormat.NumChannels,
				Precision:   OutputPrecision,
			}
			if format.NumChannels < 1 || format.NumChannels > 2 {
				format.NumChannels = 2
			}
			buf = beep.NewBuffer(format)
		}

		var src beep.Streamer = streamer
		if clipFormat.SampleRate != format.SampleRate {
			src = beep.Resample(ResampleQuality, clipFormat.SampleRate, format.SampleRate, streamer)
		}
		buf.Append(src)
		err = streamer.Err()
		_ = streamer.Close()
		if err != nil {
			return "", fmt.Errorf("read clip %d: %w", i+1, err)
		}
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	f, path, err := s.createOutput(outputDir)
	if err != nil {
		return "", err
	}

	if err := wav.Encode(f, buf.Streamer(0, buf.Len()), format); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("encode wav: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close output: %w", err)
	}
	return path, nil
}

// createOutput opens full_audio_<timestamp>.wav, adding _1, _2, ... when a
// file with that name already exists.
func (s *WAVStitcher) createOutput(dir string) (*os.File, string, error) {
	base := OutputPrefix + s.now().Format(timestampLayout)
	for n := 0; ; n++ {
		name := base + OutputExt
		if n > 0 {
			name = fmt.Sprintf("%s_%d%s", base, n, OutputExt)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("create output file: %w", err)
		}
		return f, path, nil
	}
}

func decodeClip(clip Clip) (beep.StreamCloser, beep.Format, error) {
	if len(clip.Audio) == 0 {
		return nil, beep.Format{}, fmt.Errorf("empty audio")
	}

	format := clip.Format
	if bytes.HasPrefix(clip.Audio, []byte("RIFF")) {
		format = tts.FormatWAV
	}

	switch format {
	case tts.FormatWAV:
		return wav.Decode(bytes.NewReader(clip.Audio))
	case tts.FormatPCM:
		if clip.SampleRate <= 0 {
			return nil, beep.Format{}, fmt.Errorf("pcm clip without sample rate")
		}
		return &pcmStreamer{data: clip.Audio}, beep.Format{
			SampleRate:  beep.SampleRate(clip.SampleRate),
			NumChannels: 1,
			Precision:   2,
		}, nil
	default:
		return mp3.Decode(io.NopCloser(bytes.NewReader(clip.Audio)))
	}
}

// pcmStreamer reads 16-bit little-endian mono samples.
type pcmStreamer struct {
	data []byte
	pos  int
}

func (p *pcmStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for n < len(samples) && p.pos+1 < len(p.data) {
		v := float64(int16(binary.LittleEndian.Uint16(p.data[p.pos:]))) / 32768
		samples[n] = [2]float64{v, v}
		p.pos += 2
		n++
	}
	return n, n > 0
}

func (p *pcmStreamer) Err() error   { return nil }
func (p *pcmStreamer) Close() error { return nil }
