// Package synthesis correlates synthesis requests with the asynchronous
// completions reported by a tts.Backend.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-wyoming/internal/tts"
)

var ErrEmptyText = errors.New("synthesis: empty text")

// Handle is resolved exactly once with the backend's result.
type Handle struct {
	id   string
	done chan tts.Result

	mu        sync.Mutex
	resolved  bool
	abandoned bool
}

func newHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan tts.Result, 1)}
}

func (h *Handle) ID() string { return h.id }

// resolve delivers res unless the handle already resolved. A result that
// arrives after the waiter gave up has its output removed.
func (h *Handle) resolve(res tts.Result) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resolved {
		return false
	}
	h.resolved = true
	if h.abandoned {
		discard(res)
		return false
	}
	res.ID = h.id
	h.done <- res
	return true
}

// Wait blocks until the handle resolves or ctx is done. A handle may be
// awaited by one caller only. Once Wait returns ctx.Err() the handle owns
// any result that still arrives and deletes its output.
func (h *Handle) Wait(ctx context.Context) (tts.Result, error) {
	select {
	case res := <-h.done:
		return res, nil
	case <-ctx.Done():
	}

	h.mu.Lock()
	h.abandoned = true
	h.mu.Unlock()
	select {
	case res := <-h.done:
		discard(res)
	default:
	}
	return tts.Result{}, ctx.Err()
}

func discard(res tts.Result) {
	if res.Path != "" {
		_ = os.Remove(res.Path)
	}
}

// Coordinator owns the identifier to handle table shared by connection
// handlers and the backend's completion goroutines.
type Coordinator struct {
	backend tts.Backend
	dir     string
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]*Handle

	// submitMu keeps a voice switch and the request using it together.
	submitMu sync.Mutex
}

// New registers the coordinator as the backend's completion handler. dir
// receives one temporary WAV per request.
func New(backend tts.Backend, dir string, log *slog.Logger) (*Coordinator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create synthesis dir: %w", err)
	}
	c := &Coordinator{
		backend: backend,
		dir:     dir,
		log:     log.With(slog.String("component", "synthesis")),
		pending: make(map[string]*Handle),
	}
	backend.SetCompletionHandler(c.Complete)
	return c, nil
}

// Submit starts a synthesis and returns its handle. Failures the backend
// reports immediately resolve the handle before Submit returns.
func (c *Coordinator) Submit(ctx context.Context, text, voice string) (*Handle, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	id := uuid.NewString()
	h := newHandle(id)

	c.mu.Lock()
	c.pending[id] = h
	c.mu.Unlock()

	log := c.log.With(slog.String("utterance_id", id))
	if !c.backend.Ready() {
		log.Error("tts backend not ready, cannot synthesize")
		c.fail(id, tts.ErrNotReady)
		return h, nil
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()
	if err := ctx.Err(); err != nil {
		c.Abandon(id)
		return nil, err
	}
	if voice != "" && voice != c.backend.ActiveVoice() {
		if err := c.backend.SetVoice(voice); err != nil {
			log.Warn("voice switch failed, using current voice",
				slog.String("voice", voice),
				slog.String("active_voice", c.backend.ActiveVoice()),
				slog.String("error", err.Error()))
		} else {
			log.Info("switched voice", slog.String("voice", voice))
		}
	}

	req := tts.Request{
		ID:         id,
		Text:       text,
		Voice:      c.backend.ActiveVoice(),
		OutputPath: filepath.Join(c.dir, id+".wav"),
	}
	if err := c.backend.SynthesizeToFile(req); err != nil {
		log.Error("synthesize call failed immediately", slog.String("error", err.Error()))
		c.fail(id, err)
		return h, nil
	}
	log.Debug("synthesis submitted, waiting for completion", slog.String("voice", req.Voice))
	return h, nil
}

// Complete resolves the handle registered for res.ID. Unknown or already
// resolved identifiers are ignored and any orphaned output is deleted.
func (c *Coordinator) Complete(res tts.Result) {
	c.mu.Lock()
	h, ok := c.pending[res.ID]
	delete(c.pending, res.ID)
	c.mu.Unlock()

	if !ok {
		c.log.Debug("ignoring completion for unknown utterance", slog.String("utterance_id", res.ID))
		discard(res)
		return
	}
	h.resolve(res)
}

// Abandon forgets id so that a late completion becomes a no-op.
func (c *Coordinator) Abandon(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Pending reports the number of unresolved requests.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coordinator) fail(id string, err error) {
	c.Complete(tts.Result{ID: id, Err: err})
}
