package tts

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-wyoming/internal/config"
)

const (
	mockToneHz        = 440
	mockPerCharacter  = 40 * time.Millisecond
	mockMaxDuration   = 5 * time.Second
	mockBitsPerSample = 16
)

// mockSynth renders a short sine tone whose length follows the text length.
type mockSynth struct {
	*catalog
	sampleRate int
	channels   int
	latency    time.Duration
	ctx        context.Context
	cancel     context.CancelFunc

	// closeMu orders wg.Add against Close.
	closeMu sync.Mutex
	wg      sync.WaitGroup
}

func NewMockBackend(cfg config.TTSConfig) Backend {
	ctx, cancel := context.WithCancel(context.Background())
	return &mockSynth{
		catalog:    newCatalog(cfg),
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		latency:    time.Duration(cfg.MockLatencyMS) * time.Millisecond,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (m *mockSynth) Ready() bool { return m.ctx.Err() == nil }

func (m *mockSynth) SynthesizeToFile(req Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrEmptyText
	}
	m.closeMu.Lock()
	if !m.Ready() {
		m.closeMu.Unlock()
		return ErrNotReady
	}
	m.wg.Add(1)
	m.closeMu.Unlock()
	go func() {
		defer m.wg.Done()
		select {
		case <-m.ctx.Done():
			m.complete(Result{ID: req.ID, Err: m.ctx.Err()})
			return
		case <-time.After(m.latency):
		}
		res := Result{ID: req.ID}
		if err := m.render(req); err != nil {
			res.Err = err
			_ = os.Remove(req.OutputPath)
		} else {
			res.Path = req.OutputPath
		}
		m.complete(res)
	}()
	return nil
}

func (m *mockSynth) render(req Request) error {
	file, err := os.Create(req.OutputPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer file.Close()

	duration := time.Duration(len([]rune(req.Text))) * mockPerCharacter
	if duration > mockMaxDuration {
		duration = mockMaxDuration
	}
	frames := int(duration.Seconds() * float64(m.sampleRate))
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: m.channels, SampleRate: m.sampleRate},
		SourceBitDepth: mockBitsPerSample,
		Data:           make([]int, frames*m.channels),
	}
	for i := 0; i < frames; i++ {
		sample := int(math.Sin(2*math.Pi*mockToneHz*float64(i)/float64(m.sampleRate)) * 8000)
		for ch := 0; ch < m.channels; ch++ {
			buffer.Data[i*m.channels+ch] = sample
		}
	}

	enc := wav.NewEncoder(file, m.sampleRate, mockBitsPerSample, m.channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

func (m *mockSynth) Close() {
	m.closeMu.Lock()
	m.cancel()
	m.closeMu.Unlock()
	m.wg.Wait()
}
