package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/loqalabs/loqa-wyoming/internal/wyoming"
)

// DefaultChunkSize is the PCM byte count carried by one audio-chunk event.
const DefaultChunkSize = 4096

// EventWriter is satisfied by *wyoming.Writer.
type EventWriter interface {
	WriteEvent(ev wyoming.Event) error
}

// Stats summarises one streamed utterance.
type Stats struct {
	Format Format
	Chunks int
	Bytes  int64
}

type Streamer struct {
	chunkSize       int
	finalEmptyChunk bool
	log             *slog.Logger
}

// NewStreamer returns a Streamer emitting chunkSize-byte chunks. When
// finalEmptyChunk is set a zero-length audio-chunk precedes audio-stop.
func NewStreamer(chunkSize int, finalEmptyChunk bool, log *slog.Logger) *Streamer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Streamer{
		chunkSize:       chunkSize,
		finalEmptyChunk: finalEmptyChunk,
		log:             log.With(slog.String("component", "audio-streamer")),
	}
}

// StreamFile streams the WAV at path and removes the file afterwards,
// whatever the outcome.
func (s *Streamer) StreamFile(ctx context.Context, w EventWriter, path string) (Stats, error) {
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("failed to delete audio file", slog.String("path", path), slog.String("error", err.Error()))
			return
		}
		s.log.Debug("deleted audio file", slog.String("path", path))
	}()

	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()
	return s.Stream(ctx, w, f)
}

// Stream emits audio-start, audio-chunk* and audio-stop for the WAV in r.
// A header that fails to parse produces no events.
func (s *Streamer) Stream(ctx context.Context, w EventWriter, r io.Reader) (Stats, error) {
	format, err := ReadHeader(r)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Format: format}
	s.log.Debug("parsed wav header",
		slog.Int("rate", format.SampleRate),
		slog.Int("bits", format.BitsPerSample),
		slog.Int("channels", format.Channels))

	if err := w.WriteEvent(wyoming.AudioStart{Rate: format.SampleRate, Width: format.Width(), Channels: format.Channels}); err != nil {
		return stats, fmt.Errorf("write audio-start: %w", err)
	}

	buf := make([]byte, s.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			chunk := wyoming.AudioChunk{
				Rate:     format.SampleRate,
				Width:    format.Width(),
				Channels: format.Channels,
				Audio:    buf[:n],
			}
			if err := w.WriteEvent(chunk); err != nil {
				return stats, fmt.Errorf("write audio-chunk: %w", err)
			}
			stats.Chunks++
			stats.Bytes += int64(n)
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			return stats, fmt.Errorf("read pcm: %w", readErr)
		}
	}

	if s.finalEmptyChunk {
		final := wyoming.AudioChunk{Rate: format.SampleRate, Width: format.Width(), Channels: format.Channels}
		if err := w.WriteEvent(final); err != nil {
			return stats, fmt.Errorf("write final audio-chunk: %w", err)
		}
	}
	if err := w.WriteEvent(wyoming.AudioStop{}); err != nil {
		return stats, fmt.Errorf("write audio-stop: %w", err)
	}
	return stats, nil
}
