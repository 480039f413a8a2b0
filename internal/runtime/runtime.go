package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-wyoming/internal/bus"
	"github.com/loqalabs/loqa-wyoming/internal/config"
	"github.com/loqalabs/loqa-wyoming/internal/eventstore"
	"github.com/loqalabs/loqa-wyoming/internal/natsserver"
	"github.com/loqalabs/loqa-wyoming/internal/server"
	"github.com/loqalabs/loqa-wyoming/internal/synthesis"
	"github.com/loqalabs/loqa-wyoming/internal/tts"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	httpAddr    atomic.Value
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	natsServer *natsserver.EmbeddedServer
	bus        *bus.Client
	eventStore *eventstore.Store
	backend    tts.Backend
	wyoming    *server.Server
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component, serves until ctx is cancelled and then shuts
// down. Startup failures such as a Wyoming port already in use are returned.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.stop()

	if err := r.startComponents(ctx); err != nil {
		return err
	}

	if r.cfg.HTTP.Enabled {
		if err := r.startHTTP(metricsHandler); err != nil {
			return err
		}
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("wyoming_addr", r.wyoming.Addr().String()),
		slog.String("tts_mode", r.cfg.TTS.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.eventStore = store

	if r.cfg.Bus.Enabled {
		ns, err := natsserver.Start(r.cfg.Bus, r.logger.With(slog.String("component", "nats")))
		if err != nil {
			return err
		}
		r.natsServer = ns

		busCfg := r.cfg.Bus
		if ns != nil {
			busCfg.Servers = []string{ns.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			return err
		}
		r.bus = client
	}

	backend, err := tts.New(r.cfg.TTS, r.logger)
	if err != nil {
		return fmt.Errorf("create tts backend: %w", err)
	}
	r.backend = backend

	coordinator, err := synthesis.New(backend, r.cfg.TTS.TempDir, r.logger)
	if err != nil {
		return err
	}

	srv, err := server.New(r.cfg.Wyoming, r.cfg.TTS.Program, backend, coordinator, r.logger)
	if err != nil {
		return err
	}
	if r.cfg.EventStore.RetentionMode != "ephemeral" {
		srv.WithJournal(store)
	}
	if r.bus != nil {
		srv.WithPublisher(r.bus)
	}
	r.wyoming = srv
	return srv.Start(ctx)
}

func (r *Runtime) startHTTP(metricsHandler http.Handler) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen http on %s: %w", addr, err)
	}
	r.httpAddr.Store(ln.Addr().String())
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// stop releases whatever startComponents and startHTTP managed to create.
func (r *Runtime) stop() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.wyoming != nil {
		if err := r.wyoming.Close(); err != nil {
			r.logger.Error("wyoming shutdown error", slog.String("error", err.Error()))
		}
	}
	if r.backend != nil {
		r.backend.Close()
	}
	r.bus.Close()
	r.natsServer.Shutdown()
	if r.eventStore != nil {
		if err := r.eventStore.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

// Ready reports whether the runtime finished starting.
func (r *Runtime) Ready() bool {
	return r.ready.Load()
}

// HTTPAddr returns the health server address once it is listening.
func (r *Runtime) HTTPAddr() string {
	addr, _ := r.httpAddr.Load().(string)
	return addr
}

// WyomingAddr returns the Wyoming listener address once it is listening.
func (r *Runtime) WyomingAddr() string {
	if !r.ready.Load() || r.wyoming == nil {
		return ""
	}
	if addr := r.wyoming.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.backend.Ready() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
