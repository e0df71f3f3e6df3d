package transcript

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxa-labs/voxa-core/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEphemeralStoreIsNoOp(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.TranscriptConfig{RetentionMode: "ephemeral"}, discardLogger())
	if err != nil {
		t.Fatalf("open ephemeral: %v", err)
	}
	defer s.Close()

	if s.Enabled() {
		t.Fatal("ephemeral store should not be enabled")
	}
	if err := s.RecordExchange(ctx, Exchange{SessionID: "s1", UserText: "hi"}); err != nil {
		t.Fatalf("record on ephemeral store: %v", err)
	}
	got, err := s.ListSessionExchanges(ctx, "s1", 10)
	if err != nil || got != nil {
		t.Fatalf("ephemeral list = %v, %v", got, err)
	}
}

func TestPersistentStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := config.TranscriptConfig{
		Path:          filepath.Join(t.TempDir(), "transcripts.db"),
		RetentionMode: "persistent",
	}
	s, err := Open(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.RecordSession(ctx, "s1"); err != nil {
		t.Fatalf("record session: %v", err)
	}
	if err := s.RecordExchange(ctx, Exchange{SessionID: "s1", UserText: "hello", ReplyText: "hi there", Provider: "mock"}); err != nil {
		t.Fatalf("record exchange: %v", err)
	}
	if err := s.RecordExchange(ctx, Exchange{SessionID: "s1", UserText: "bye", ReplyText: "see you", Provider: "mock"}); err != nil {
		t.Fatalf("record exchange: %v", err)
	}

	got, err := s.ListSessionExchanges(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 exchanges, got %d", len(got))
	}
	if got[0].UserText != "hello" || got[1].ReplyText != "see you" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestPruneRemovesExpiredExchanges(t *testing.T) {
	ctx := context.Background()
	cfg := config.TranscriptConfig{
		Path:          filepath.Join(t.TempDir(), "transcripts.db"),
		RetentionMode: "persistent",
		RetentionDays: 7,
	}
	s, err := Open(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	old := time.Now().Add(-30 * 24 * time.Hour)
	if err := s.RecordSession(ctx, "s1"); err != nil {
		t.Fatalf("record session: %v", err)
	}
	if err := s.RecordExchange(ctx, Exchange{SessionID: "s1", UserText: "stale", CreatedAt: old.UTC()}); err != nil {
		t.Fatalf("record old exchange: %v", err)
	}
	if err := s.RecordExchange(ctx, Exchange{SessionID: "s1", UserText: "fresh"}); err != nil {
		t.Fatalf("record fresh exchange: %v", err)
	}

	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	got, err := s.ListSessionExchanges(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].UserText != "fresh" {
		t.Fatalf("expected only fresh exchange, got %+v", got)
	}
}
