package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServiceName != "voxa-core" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.Session.ContextWindow != 10 || cfg.Session.MaxMessages != 50 {
		t.Fatalf("unexpected session defaults: %+v", cfg.Session)
	}
	if cfg.Cache.Capacity != 50 {
		t.Fatalf("expected cache capacity 50, got %d", cfg.Cache.Capacity)
	}
	if len(cfg.TTS.Providers) != 1 || cfg.TTS.Providers[0] != "mock" {
		t.Fatalf("expected mock tts provider by default, got %v", cfg.TTS.Providers)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOXA_CHAT_MODE", "groq")
	t.Setenv("VOXA_CHAT_API_KEY", "gsk_test")
	t.Setenv("VOXA_STT_PROVIDERS", "groq, mock")
	t.Setenv("VOXA_STT_API_KEY", "gsk_test")
	t.Setenv("VOXA_TTS_PROVIDERS", "edge,mock")
	t.Setenv("VOXA_TTS_DEFAULT_VOICE", "en-US-JennyNeural")
	t.Setenv("VOXA_SESSION_CONTEXT_WINDOW", "5")
	t.Setenv("VOXA_CACHE_CAPACITY", "10")
	t.Setenv("VOXA_WORKERS_POOL_SIZE", "2")
	t.Setenv("VOXA_TRANSCRIPT_RETENTION_MODE", "session")
	t.Setenv("VOXA_TRANSCRIPT_PATH", "./tmp.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Chat.Mode != "groq" || cfg.Chat.APIKey != "gsk_test" {
		t.Fatalf("expected chat overrides, got %+v", cfg.Chat)
	}
	if len(cfg.STT.Providers) != 2 || cfg.STT.Providers[0] != "groq" {
		t.Fatalf("expected stt provider override, got %v", cfg.STT.Providers)
	}
	if cfg.TTS.DefaultVoice != "en-US-JennyNeural" {
		t.Fatalf("expected voice override, got %q", cfg.TTS.DefaultVoice)
	}
	if cfg.Session.ContextWindow != 5 {
		t.Fatalf("expected context window override, got %d", cfg.Session.ContextWindow)
	}
	if cfg.Cache.Capacity != 10 {
		t.Fatalf("expected cache capacity override, got %d", cfg.Cache.Capacity)
	}
	if cfg.Workers.PoolSize != 2 {
		t.Fatalf("expected pool size override, got %d", cfg.Workers.PoolSize)
	}
	if cfg.Transcript.RetentionMode != "session" {
		t.Fatalf("expected transcript retention override, got %q", cfg.Transcript.RetentionMode)
	}
}

func TestValidateRejectsBadProvider(t *testing.T) {
	t.Setenv("VOXA_TTS_PROVIDERS", "espeak")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown tts provider")
	}
}

func TestValidateRequiresExecCommand(t *testing.T) {
	t.Setenv("VOXA_TTS_PROVIDERS", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error when exec provider has no command")
	}
}
