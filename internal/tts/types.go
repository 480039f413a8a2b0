package tts

import "errors"

var (
	ErrNotReady     = errors.New("tts backend not ready")
	ErrEmptyText    = errors.New("tts text is empty")
	ErrUnknownVoice = errors.New("unknown voice")
)

// Request asks the backend to render Text into a WAV file at OutputPath.
// ID is the correlation token echoed back in the Result.
type Request struct {
	ID         string
	Text       string
	Voice      string
	OutputPath string
}

// Result reports the outcome of one Request. Path is set on success.
type Result struct {
	ID   string
	Path string
	Err  error
}

// CompletionFunc receives exactly one Result per accepted Request, from the
// backend's own goroutine.
type CompletionFunc func(Result)

// Voice describes one installed voice.
type Voice struct {
	Name        string
	Description string
	Languages   []string
	Version     string
}

// Backend is the contract for an asynchronous file-producing synthesizer.
type Backend interface {
	Ready() bool
	Voices() []Voice
	ActiveVoice() string
	// SetVoice switches the active voice. It may be slow.
	SetVoice(name string) error
	// SynthesizeToFile returns an error only when the request is rejected
	// immediately; otherwise the outcome arrives via the completion handler.
	SynthesizeToFile(req Request) error
	SetCompletionHandler(fn CompletionFunc)
	Close()
}
