package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Wyoming.Addr() != "0.0.0.0:10300" {
		t.Fatalf("expected default wyoming address, got %s", cfg.Wyoming.Addr())
	}
	if cfg.Wyoming.IdleTimeout() != 30*time.Second {
		t.Fatalf("expected 30s idle timeout, got %s", cfg.Wyoming.IdleTimeout())
	}
	if cfg.Wyoming.ChunkBytes != 4096 || !cfg.Wyoming.FinalEmptyChunk {
		t.Fatalf("unexpected chunk defaults: %+v", cfg.Wyoming)
	}
	if cfg.Wyoming.MaxDataBytes != 1<<20 || cfg.Wyoming.MaxPayloadBytes != 16<<20 {
		t.Fatalf("unexpected frame limit defaults: %+v", cfg.Wyoming)
	}
	if cfg.TTS.Mode != "mock" || len(cfg.TTS.Voices) != 1 {
		t.Fatalf("unexpected tts defaults: %+v", cfg.TTS)
	}
	if cfg.Bus.Enabled || cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("unexpected bus defaults: %+v", cfg.Bus)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-wyoming.yaml")
	data := []byte(`
wyoming:
  port: 10400
  idle_timeout_ms: 5000
tts:
  mode: exec
  command: piper --model /voices/{voice}.onnx --output_file {output}
  voice: en_US-amy
  voices:
    - name: en_US-amy
      languages: [en-US]
    - name: de_DE-thorsten
      languages: [de-DE]
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Wyoming.Port != 10400 || cfg.Wyoming.IdleTimeout() != 5*time.Second {
		t.Fatalf("file values not applied: %+v", cfg.Wyoming)
	}
	if cfg.Wyoming.ChunkBytes != 4096 {
		t.Fatalf("unset values must keep defaults, got %d", cfg.Wyoming.ChunkBytes)
	}
	if cfg.TTS.Mode != "exec" || len(cfg.TTS.Voices) != 2 || cfg.TTS.Voices[1].Name != "de_DE-thorsten" {
		t.Fatalf("unexpected tts config: %+v", cfg.TTS)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_WYOMING_PORT", "10555")
	t.Setenv("LOQA_WYOMING_IDLE_TIMEOUT_MS", "1500")
	t.Setenv("LOQA_WYOMING_FINAL_EMPTY_CHUNK", "false")
	t.Setenv("LOQA_WYOMING_MAX_DATA_BYTES", "2048")
	t.Setenv("LOQA_WYOMING_MAX_PAYLOAD_BYTES", "65536")
	t.Setenv("LOQA_TTS_MODE", "exec")
	t.Setenv("LOQA_TTS_COMMAND", "piper --output_file {output}")
	t.Setenv("LOQA_TTS_TEMP_DIR", "/tmp/tts-cache")
	t.Setenv("LOQA_BUS_ENABLED", "true")
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_EVENT_STORE_MAX_SESSIONS", "123")
	t.Setenv("LOQA_EVENT_STORE_VACUUM_ON_START", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Wyoming.Port != 10555 || cfg.Wyoming.IdleTimeoutMS != 1500 || cfg.Wyoming.FinalEmptyChunk {
		t.Fatalf("expected wyoming overrides, got %+v", cfg.Wyoming)
	}
	if cfg.Wyoming.MaxDataBytes != 2048 || cfg.Wyoming.MaxPayloadBytes != 65536 {
		t.Fatalf("expected frame limit overrides, got %+v", cfg.Wyoming)
	}
	if cfg.TTS.Mode != "exec" || cfg.TTS.Command != "piper --output_file {output}" || cfg.TTS.TempDir != "/tmp/tts-cache" {
		t.Fatalf("expected tts overrides, got %+v", cfg.TTS)
	}
	if !cfg.Bus.Enabled || len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected bus overrides, got %+v", cfg.Bus)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store retention days override")
	}
	if cfg.EventStore.MaxSessions != 123 {
		t.Fatalf("expected event store max sessions override")
	}
	if !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store vacuum flag override")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"exec without command": func(c *Config) { c.TTS.Mode = "exec"; c.TTS.Command = "" },
		"unknown tts mode":     func(c *Config) { c.TTS.Mode = "cloud" },
		"zero idle timeout":    func(c *Config) { c.Wyoming.IdleTimeoutMS = 0 },
		"port out of range":    func(c *Config) { c.Wyoming.Port = 70000 },
		"zero max data":        func(c *Config) { c.Wyoming.MaxDataBytes = 0 },
		"negative max payload": func(c *Config) { c.Wyoming.MaxPayloadBytes = -1 },
		"unnamed voice":        func(c *Config) { c.TTS.Voices = []VoiceConfig{{Name: " "}} },
		"bad retention mode":   func(c *Config) { c.EventStore.RetentionMode = "forever" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
