package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-wyoming/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "c1", Type: TypeDescribe}); err != nil {
		t.Fatalf("ephemeral append should be a no-op: %v", err)
	}
	if events, _ := es.ListSessionEvents(ctx, "c1", 10); len(events) != 0 {
		t.Fatalf("ephemeral store must not retain events, got %d", len(events))
	}
}

func TestAppendAndQueryUtteranceTimeline(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	sessionID := "conn-123"
	if err := es.AppendSession(ctx, sessionID, "127.0.0.1:50000"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	timeline := []Event{
		{SessionID: sessionID, UtteranceID: "utt-1", Type: TypeSynthesizeRequested, Payload: []byte("hello")},
		{SessionID: sessionID, UtteranceID: "utt-1", Type: TypeAudioStreamed},
		{SessionID: sessionID, Type: TypeConnectionClosed},
	}
	for _, evt := range timeline {
		if err := es.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	events, err := es.ListSessionEvents(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != TypeSynthesizeRequested || string(events[0].Payload) != "hello" || events[0].UtteranceID != "utt-1" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[2].Type != TypeConnectionClosed || events[2].UtteranceID != "" {
		t.Fatalf("unexpected last event: %+v", events[2])
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "old-conn", "10.0.0.1:1"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{SessionID: "old-conn", Type: TypeDescribe}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "new-conn", "10.0.0.2:1"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(context.Background(), "old-conn", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old connection pruned")
	}
}
