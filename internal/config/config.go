package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Chat        ChatConfig       `yaml:"chat"`
	STT         STTConfig        `yaml:"stt"`
	TTS         TTSConfig        `yaml:"tts"`
	Session     SessionConfig    `yaml:"session"`
	Cache       CacheConfig      `yaml:"cache"`
	Workers     WorkersConfig    `yaml:"workers"`
	Sanitize    SanitizeConfig   `yaml:"sanitize"`
	Transcript  TranscriptConfig `yaml:"transcript"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type ChatConfig struct {
	Mode         string  `yaml:"mode"` // mock, groq
	Endpoint     string  `yaml:"endpoint"`
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	TimeoutMS    int     `yaml:"timeout_ms"`
}

type STTConfig struct {
	Providers       []string `yaml:"providers"` // priority order: groq, whisper-cli, mock
	Endpoint        string   `yaml:"endpoint"`
	APIKey          string   `yaml:"api_key"`
	Model           string   `yaml:"model"`
	Command         string   `yaml:"command"`
	ModelPath       string   `yaml:"model_path"`
	DefaultLanguage string   `yaml:"default_language"`
	MaxUploadBytes  int64    `yaml:"max_upload_bytes"`
	TimeoutMS       int      `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Providers    []string `yaml:"providers"` // priority order: edge, exec, mock
	Command      string   `yaml:"command"`
	DefaultVoice string   `yaml:"default_voice"`
	MinSpeed     float64  `yaml:"min_speed"`
	MaxSpeed     float64  `yaml:"max_speed"`
	TimeoutMS    int      `yaml:"timeout_ms"`
}

type SessionConfig struct {
	MaxMessages   int `yaml:"max_messages"`
	ContextWindow int `yaml:"context_window"`
}

type CacheConfig struct {
	Capacity        int `yaml:"capacity"`
	MaxMemoryMB     int `yaml:"max_memory_mb"`
	SweepIntervalMS int `yaml:"sweep_interval_ms"`
}

type WorkersConfig struct {
	PoolSize  int `yaml:"pool_size"`
	QueueSize int `yaml:"queue_size"`
}

type SanitizeConfig struct {
	MaxTextLength    int `yaml:"max_text_length"`
	MaxMessageLength int `yaml:"max_message_length"`
	MaxHistory       int `yaml:"max_history"`
}

type TranscriptConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		ServiceName: "voxa-core",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Chat: ChatConfig{
			Mode:         "mock",
			Endpoint:     "https://api.groq.com/openai/v1",
			Model:        "llama-3.3-70b-versatile",
			SystemPrompt: "You are a helpful voice assistant. Answer exactly what is asked, in two to four concise sentences suitable for speech.",
			MaxTokens:    500,
			Temperature:  0.7,
			TimeoutMS:    60000,
		},
		STT: STTConfig{
			Providers:       []string{"mock"},
			Endpoint:        "https://api.groq.com/openai/v1",
			Model:           "whisper-large-v3",
			DefaultLanguage: "en",
			MaxUploadBytes:  25 << 20,
			TimeoutMS:       30000,
		},
		TTS: TTSConfig{
			Providers:    []string{"mock"},
			DefaultVoice: "en-US-GuyNeural",
			MinSpeed:     0.5,
			MaxSpeed:     2.0,
			TimeoutMS:    45000,
		},
		Session: SessionConfig{
			MaxMessages:   50,
			ContextWindow: 10,
		},
		Cache: CacheConfig{
			Capacity:        50,
			MaxMemoryMB:     512,
			SweepIntervalMS: 300000,
		},
		Workers: WorkersConfig{
			PoolSize:  4,
			QueueSize: 8,
		},
		Sanitize: SanitizeConfig{
			MaxTextLength:    10000,
			MaxMessageLength: 5000,
			MaxHistory:       50,
		},
		Transcript: TranscriptConfig{
			Path:          "./data/voxa-transcripts.db",
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
	overrideString(&cfg.ServiceName, "VOXA_SERVICE_NAME")
	overrideString(&cfg.Environment, "VOXA_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "VOXA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOXA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Chat.APIKey, "GROQ_API_KEY")
	overrideString(&cfg.STT.APIKey, "GROQ_API_KEY")
	overrideString(&cfg.Chat.Mode, "VOXA_CHAT_MODE")
	overrideString(&cfg.Chat.Endpoint, "VOXA_CHAT_ENDPOINT")
	overrideString(&cfg.Chat.APIKey, "VOXA_CHAT_API_KEY")
	overrideString(&cfg.Chat.Model, "VOXA_CHAT_MODEL")
	overrideString(&cfg.Chat.SystemPrompt, "VOXA_CHAT_SYSTEM_PROMPT")
	overrideInt(&cfg.Chat.MaxTokens, "VOXA_CHAT_MAX_TOKENS")
	overrideFloat(&cfg.Chat.Temperature, "VOXA_CHAT_TEMPERATURE")
	overrideInt(&cfg.Chat.TimeoutMS, "VOXA_CHAT_TIMEOUT_MS")
	overrideStringSlice(&cfg.STT.Providers, "VOXA_STT_PROVIDERS")
	overrideString(&cfg.STT.Endpoint, "VOXA_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "VOXA_STT_API_KEY")
	overrideString(&cfg.STT.Model, "VOXA_STT_MODEL")
	overrideString(&cfg.STT.Command, "VOXA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "VOXA_STT_MODEL_PATH")
	overrideString(&cfg.STT.DefaultLanguage, "VOXA_STT_DEFAULT_LANGUAGE")
	overrideInt64(&cfg.STT.MaxUploadBytes, "VOXA_STT_MAX_UPLOAD_BYTES")
	overrideInt(&cfg.STT.TimeoutMS, "VOXA_STT_TIMEOUT_MS")
	overrideStringSlice(&cfg.TTS.Providers, "VOXA_TTS_PROVIDERS")
	overrideString(&cfg.TTS.Command, "VOXA_TTS_COMMAND")
	overrideString(&cfg.TTS.DefaultVoice, "VOXA_TTS_DEFAULT_VOICE")
	overrideFloat(&cfg.TTS.MinSpeed, "VOXA_TTS_MIN_SPEED")
	overrideFloat(&cfg.TTS.MaxSpeed, "VOXA_TTS_MAX_SPEED")
	overrideInt(&cfg.TTS.TimeoutMS, "VOXA_TTS_TIMEOUT_MS")
	overrideInt(&cfg.Session.MaxMessages, "VOXA_SESSION_MAX_MESSAGES")
	overrideInt(&cfg.Session.ContextWindow, "VOXA_SESSION_CONTEXT_WINDOW")
	overrideInt(&cfg.Cache.Capacity, "VOXA_CACHE_CAPACITY")
	overrideInt(&cfg.Cache.MaxMemoryMB, "VOXA_CACHE_MAX_MEMORY_MB")
	overrideInt(&cfg.Cache.SweepIntervalMS, "VOXA_CACHE_SWEEP_INTERVAL_MS")
	overrideInt(&cfg.Workers.PoolSize, "VOXA_WORKERS_POOL_SIZE")
	overrideInt(&cfg.Workers.QueueSize, "VOXA_WORKERS_QUEUE_SIZE")
	overrideInt(&cfg.Sanitize.MaxTextLength, "VOXA_SANITIZE_MAX_TEXT_LENGTH")
	overrideInt(&cfg.Sanitize.MaxMessageLength, "VOXA_SANITIZE_MAX_MESSAGE_LENGTH")
	overrideInt(&cfg.Sanitize.MaxHistory, "VOXA_SANITIZE_MAX_HISTORY")
	overrideString(&cfg.Transcript.Path, "VOXA_TRANSCRIPT_PATH")
	overrideString(&cfg.Transcript.RetentionMode, "VOXA_TRANSCRIPT_RETENTION_MODE")
	overrideInt(&cfg.Transcript.RetentionDays, "VOXA_TRANSCRIPT_RETENTION_DAYS")
	overrideInt(&cfg.Transcript.MaxSessions, "VOXA_TRANSCRIPT_MAX_SESSIONS")
	overrideBool(&cfg.Transcript.VacuumOnStart, "VOXA_TRANSCRIPT_VACUUM_ON_START")
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

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Chat.Mode {
	case "mock", "groq":
	default:
		return errors.New("chat.mode must be one of mock|groq")
	}
	if cfg.Chat.Mode == "groq" {
		if cfg.Chat.Endpoint == "" {
			return errors.New("chat.endpoint must be set when mode=groq")
		}
		if cfg.Chat.APIKey == "" {
			return errors.New("chat.api_key must be set when mode=groq (or via GROQ_API_KEY)")
		}
	}
	if cfg.Chat.MaxTokens < 0 {
		return errors.New("chat.max_tokens must be >= 0")
	}
	if len(cfg.STT.Providers) == 0 {
		return errors.New("stt.providers must not be empty")
	}
	for _, p := range cfg.STT.Providers {
		switch p {
		case "groq", "whisper-cli", "mock":
		default:
			return fmt.Errorf("unknown stt provider %q (want groq|whisper-cli|mock)", p)
		}
		if p == "groq" && cfg.STT.APIKey == "" {
			return errors.New("stt.api_key must be set when the groq provider is enabled (or via GROQ_API_KEY)")
		}
		if p == "whisper-cli" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when the whisper-cli provider is enabled")
		}
	}
	if cfg.STT.MaxUploadBytes <= 0 {
		return errors.New("stt.max_upload_bytes must be positive")
	}
	if len(cfg.TTS.Providers) == 0 {
		return errors.New("tts.providers must not be empty")
	}
	for _, p := range cfg.TTS.Providers {
		switch p {
		case "edge", "exec", "mock":
		default:
			return fmt.Errorf("unknown tts provider %q (want edge|exec|mock)", p)
		}
		if p == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when the exec provider is enabled")
		}
	}
	if cfg.TTS.MinSpeed <= 0 || cfg.TTS.MaxSpeed < cfg.TTS.MinSpeed {
		return errors.New("tts speed bounds must satisfy 0 < min_speed <= max_speed")
	}
	if cfg.Session.MaxMessages <= 0 {
		return errors.New("session.max_messages must be positive")
	}
	if cfg.Session.ContextWindow <= 0 || cfg.Session.ContextWindow > cfg.Session.MaxMessages {
		return errors.New("session.context_window must be positive and not exceed max_messages")
	}
	if cfg.Cache.Capacity <= 0 {
		return errors.New("cache.capacity must be positive")
	}
	if cfg.Workers.PoolSize <= 0 {
		return errors.New("workers.pool_size must be positive")
	}
	if cfg.Workers.QueueSize < 0 {
		return errors.New("workers.queue_size must be >= 0")
	}
	if cfg.Sanitize.MaxTextLength <= 0 || cfg.Sanitize.MaxMessageLength <= 0 {
		return errors.New("sanitize length limits must be positive")
	}
	switch cfg.Transcript.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("transcript.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Transcript.RetentionMode != "ephemeral" && cfg.Transcript.Path == "" {
		return errors.New("transcript.path must not be empty when retention is enabled")
	}
	if cfg.Transcript.RetentionDays < 0 {
		return errors.New("transcript.retention_days must be >= 0")
	}
	return nil
}
