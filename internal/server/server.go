// Package server accepts Wyoming connections and answers describe and
// synthesize events using the configured TTS backend.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/loqalabs/loqa-wyoming/internal/audio"
	"github.com/loqalabs/loqa-wyoming/internal/config"
	"github.com/loqalabs/loqa-wyoming/internal/eventstore"
	"github.com/loqalabs/loqa-wyoming/internal/synthesis"
	"github.com/loqalabs/loqa-wyoming/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var ErrServerClosed = errors.New("wyoming server closed")

// Journal records connection and utterance lifecycle entries.
type Journal interface {
	AppendSession(ctx context.Context, sessionID, remoteAddr string) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

// Publisher broadcasts utterance status messages.
type Publisher interface {
	Publish(v any) error
}

type Server struct {
	cfg         config.WyomingConfig
	program     config.ProgramConfig
	backend     tts.Backend
	coordinator *synthesis.Coordinator
	streamer    *audio.Streamer
	journal     Journal
	publisher   Publisher
	metrics     *metrics
	tracer      trace.Tracer
	log         *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(cfg config.WyomingConfig, program config.ProgramConfig, backend tts.Backend, coordinator *synthesis.Coordinator, log *slog.Logger) (*Server, error) {
	m, err := newMetrics(coordinator.Pending)
	if err != nil {
		return nil, fmt.Errorf("init server metrics: %w", err)
	}
	return &Server{
		cfg:         cfg,
		program:     program,
		backend:     backend,
		coordinator: coordinator,
		streamer:    audio.NewStreamer(cfg.ChunkBytes, cfg.FinalEmptyChunk, log),
		metrics:     m,
		tracer:      otel.Tracer(instrumentationName),
		log:         log.With(slog.String("component", "wyoming-server")),
		conns:       make(map[net.Conn]struct{}),
	}, nil
}

// WithJournal records connection timelines in j.
func (s *Server) WithJournal(j Journal) *Server {
	s.journal = j
	return s
}

// WithPublisher sends utterance status to p.
func (s *Server) WithPublisher(p Publisher) *Server {
	s.publisher = p
	return s
}

// Start binds the listener and begins accepting connections. Calling Start
// while already listening does nothing. Cancelling ctx closes the server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if s.listener != nil {
		addr := s.listener.Addr().String()
		s.mu.Unlock()
		s.log.Info("wyoming server already listening", slog.String("addr", addr))
		return nil
	}

	addr := s.cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.listener = ln
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.acceptLoop(ctx, ln)
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	s.log.Info("wyoming server listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting, closes every open connection and waits for the
// handlers to return. It is safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("wyoming server stopped")
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.log.Warn("accept failed", slog.String("error", err.Error()))
			select {
			case <-time.After(50 * time.Millisecond):
				continue
			case <-ctx.Done():
				return
			}
		}
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			newConnection(s, conn).serve(ctx)
		}()
	}
}

// track registers conn and reserves a handler slot. It reports false once
// the server is closing.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.metrics.active.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.metrics.active.Add(-1)
}
