package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Wyoming     WyomingConfig    `yaml:"wyoming"`
	TTS         TTSConfig        `yaml:"tts"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

// WyomingConfig controls the protocol listener.
type WyomingConfig struct {
	Bind            string `yaml:"bind"`
	Port            int    `yaml:"port"`
	IdleTimeoutMS   int    `yaml:"idle_timeout_ms"`
	MaxLineBytes    int    `yaml:"max_line_bytes"`
	MaxDataBytes    int    `yaml:"max_data_bytes"`
	MaxPayloadBytes int    `yaml:"max_payload_bytes"`
	ChunkBytes      int    `yaml:"chunk_bytes"`
	FinalEmptyChunk bool   `yaml:"final_empty_chunk"`
}

type TTSConfig struct {
	Mode          string        `yaml:"mode"` // mock, exec
	Command       string        `yaml:"command"`
	Voice         string        `yaml:"voice"`
	Voices        []VoiceConfig `yaml:"voices"`
	TempDir       string        `yaml:"temp_dir"`
	TimeoutMS     int           `yaml:"timeout_ms"`
	SampleRate    int           `yaml:"sample_rate"`
	Channels      int           `yaml:"channels"`
	MockLatencyMS int           `yaml:"mock_latency_ms"`
	Program       ProgramConfig `yaml:"program"`
}

type VoiceConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Languages   []string `yaml:"languages"`
	Version     string   `yaml:"version"`
}

// ProgramConfig describes the synthesis program advertised in info events.
type ProgramConfig struct {
	Name            string `yaml:"name"`
	Description     string `yaml:"description"`
	Version         string `yaml:"version"`
	AttributionName string `yaml:"attribution_name"`
	AttributionURL  string `yaml:"attribution_url"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	Subject        string   `yaml:"subject"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-wyoming",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "0.0.0.0",
			Port:    8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Wyoming: WyomingConfig{
			Bind:            "0.0.0.0",
			Port:            10300,
			IdleTimeoutMS:   30000,
			MaxLineBytes:    8192,
			MaxDataBytes:    1 << 20,
			MaxPayloadBytes: 16 << 20,
			ChunkBytes:      4096,
			FinalEmptyChunk: true,
		},
		TTS: TTSConfig{
			Mode:          "mock",
			Voice:         "en_US-mock",
			TempDir:       filepath.Join(os.TempDir(), "loqa-wyoming"),
			TimeoutMS:     60000,
			SampleRate:    22050,
			Channels:      1,
			MockLatencyMS: 50,
			Voices: []VoiceConfig{
				{Name: "en_US-mock", Description: "Mock voice (tone)", Languages: []string{"en-US"}, Version: "1.0"},
			},
			Program: ProgramConfig{
				Name:            "loqa-wyoming",
				Description:     "Local text to speech over Wyoming",
				Version:         "0.1.0",
				AttributionName: "Loqa Labs",
				AttributionURL:  "https://github.com/loqalabs",
			},
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			Subject:        "tts.wyoming.status",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-wyoming.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "LOQA_TELEMETRY_STDOUT_TRACES")
	overrideString(&cfg.Wyoming.Bind, "LOQA_WYOMING_BIND")
	overrideInt(&cfg.Wyoming.Port, "LOQA_WYOMING_PORT")
	overrideInt(&cfg.Wyoming.IdleTimeoutMS, "LOQA_WYOMING_IDLE_TIMEOUT_MS")
	overrideInt(&cfg.Wyoming.MaxLineBytes, "LOQA_WYOMING_MAX_LINE_BYTES")
	overrideInt(&cfg.Wyoming.MaxDataBytes, "LOQA_WYOMING_MAX_DATA_BYTES")
	overrideInt(&cfg.Wyoming.MaxPayloadBytes, "LOQA_WYOMING_MAX_PAYLOAD_BYTES")
	overrideInt(&cfg.Wyoming.ChunkBytes, "LOQA_WYOMING_CHUNK_BYTES")
	overrideBool(&cfg.Wyoming.FinalEmptyChunk, "LOQA_WYOMING_FINAL_EMPTY_CHUNK")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "LOQA_TTS_VOICE")
	overrideString(&cfg.TTS.TempDir, "LOQA_TTS_TEMP_DIR")
	overrideInt(&cfg.TTS.TimeoutMS, "LOQA_TTS_TIMEOUT_MS")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "LOQA_TTS_CHANNELS")
	overrideInt(&cfg.TTS.MockLatencyMS, "LOQA_TTS_MOCK_LATENCY_MS")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.Subject, "LOQA_BUS_SUBJECT")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Wyoming.Port < 0 || cfg.Wyoming.Port > 65535 {
		return errors.New("wyoming.port must be between 0 and 65535")
	}
	if cfg.Wyoming.IdleTimeoutMS <= 0 {
		return errors.New("wyoming.idle_timeout_ms must be positive")
	}
	if cfg.Wyoming.MaxLineBytes <= 0 {
		return errors.New("wyoming.max_line_bytes must be positive")
	}
	if cfg.Wyoming.MaxDataBytes <= 0 {
		return errors.New("wyoming.max_data_bytes must be positive")
	}
	if cfg.Wyoming.MaxPayloadBytes <= 0 {
		return errors.New("wyoming.max_payload_bytes must be positive")
	}
	if cfg.Wyoming.ChunkBytes <= 0 {
		return errors.New("wyoming.chunk_bytes must be positive")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec":
	default:
		return errors.New("tts.mode must be one of mock|exec")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.TempDir == "" {
		return errors.New("tts.temp_dir must not be empty")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	for i, v := range cfg.TTS.Voices {
		if strings.TrimSpace(v.Name) == "" {
			return fmt.Errorf("tts.voices[%d].name must not be empty", i)
		}
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.Subject == "" {
			return errors.New("bus.subject must not be empty")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	return nil
}

func (w WyomingConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Bind, w.Port)
}

func (w WyomingConfig) IdleTimeout() time.Duration {
	return time.Duration(w.IdleTimeoutMS) * time.Millisecond
}
