package tts

import (
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-wyoming/internal/config"
)

// catalog holds the configured voices, the active voice and the completion
// handler shared by the backend implementations.
type catalog struct {
	mu     sync.RWMutex
	voices []Voice
	active string
	onDone CompletionFunc
}

func newCatalog(cfg config.TTSConfig) *catalog {
	c := &catalog{active: cfg.Voice}
	for _, v := range cfg.Voices {
		c.voices = append(c.voices, Voice{
			Name:        v.Name,
			Description: v.Description,
			Languages:   append([]string(nil), v.Languages...),
			Version:     v.Version,
		})
	}
	if c.active == "" && len(c.voices) > 0 {
		c.active = c.voices[0].Name
	}
	return c
}

func (c *catalog) Voices() []Voice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Voice(nil), c.voices...)
}

func (c *catalog) ActiveVoice() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

func (c *catalog) SetVoice(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.voices {
		if v.Name == name {
			c.active = name
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownVoice, name)
}

func (c *catalog) SetCompletionHandler(fn CompletionFunc) {
	c.mu.Lock()
	c.onDone = fn
	c.mu.Unlock()
}

func (c *catalog) complete(res Result) {
	c.mu.RLock()
	fn := c.onDone
	c.mu.RUnlock()
	if fn != nil {
		fn(res)
	}
}
