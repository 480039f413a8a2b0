package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/loqalabs/loqa-wyoming/internal/config"
	"github.com/loqalabs/loqa-wyoming/internal/wyoming"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Wyoming.Bind = "127.0.0.1"
	cfg.Wyoming.Port = 0
	cfg.TTS.TempDir = t.TempDir()
	cfg.TTS.MockLatencyMS = 1
	cfg.EventStore.RetentionMode = "session"
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "events.db")
	return cfg
}

func startRuntime(t *testing.T, cfg config.Config) (*Runtime, <-chan error, context.CancelFunc) {
	t.Helper()
	rt := New(cfg, newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !rt.Ready() {
		select {
		case err := <-done:
			cancel()
			t.Fatalf("runtime exited during startup: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("runtime did not become ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return rt, done, cancel
}

func stopRuntime(t *testing.T, done <-chan error, cancel context.CancelFunc) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runtime returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not stop")
	}
}

func TestRuntimeServesHealthAndWyoming(t *testing.T) {
	rt, done, cancel := startRuntime(t, testConfig(t))
	defer stopRuntime(t, done, cancel)

	base := "http://" + rt.HTTPAddr()
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, resp.StatusCode)
		}
	}

	conn, err := net.Dial("tcp", rt.WyomingAddr())
	if err != nil {
		t.Fatalf("dial wyoming: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := wyoming.NewWriter(conn).WriteEvent(wyoming.Describe{}); err != nil {
		t.Fatalf("write describe: %v", err)
	}
	frame, err := wyoming.NewReader(conn, wyoming.Limits{}).ReadFrame()
	if err != nil {
		t.Fatalf("read info: %v", err)
	}
	var info wyoming.Info
	if err := json.Unmarshal(frame.Data, &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if len(info.TTS) != 1 || len(info.TTS[0].Voices) == 0 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestRuntimeFailsWhenWyomingPortInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	cfg := testConfig(t)
	cfg.Wyoming.Port = busy.Addr().(*net.TCPAddr).Port

	errCh := make(chan error, 1)
	go func() { errCh <- New(cfg, newLogger()).Start(context.Background()) }()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected startup error for port " + strconv.Itoa(cfg.Wyoming.Port))
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not fail fast")
	}
}

func TestRuntimeWithEmbeddedBus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = t.TempDir()

	rt, done, cancel := startRuntime(t, cfg)
	defer stopRuntime(t, done, cancel)

	if !rt.bus.Healthy() {
		t.Fatal("expected bus connection to embedded server")
	}
	resp, err := http.Get("http://" + rt.HTTPAddr() + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d", resp.StatusCode)
	}
}
