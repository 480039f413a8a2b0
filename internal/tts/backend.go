package tts

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-wyoming/internal/config"
)

// New builds the backend selected by cfg.Mode.
func New(cfg config.TTSConfig, log *slog.Logger) (Backend, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockBackend(cfg), nil
	case "exec":
		return NewExecBackend(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
