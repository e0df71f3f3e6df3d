package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/voxa-labs/voxa-core/internal/audiocache"
	"github.com/voxa-labs/voxa-core/internal/capability"
	"github.com/voxa-labs/voxa-core/internal/chat"
	"github.com/voxa-labs/voxa-core/internal/config"
	"github.com/voxa-labs/voxa-core/internal/sanitize"
	"github.com/voxa-labs/voxa-core/internal/session"
	"github.com/voxa-labs/voxa-core/internal/stt"
	"github.com/voxa-labs/voxa-core/internal/tts"
	"github.com/voxa-labs/voxa-core/internal/worker"
)

type fakeTranscriber struct {
	name  string
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Name() string { return f.name }

func (f *fakeTranscriber) Transcribe(_ context.Context, _ stt.Request) (stt.Result, error) {
	f.calls++
	if f.err != nil {
		return stt.Result{}, f.err
	}
	return stt.Result{Text: f.text}, nil
}

type fakeSynth struct {
	name  string
	audio []byte
	err   error
	calls int
}

func (f *fakeSynth) Name() string { return f.name }

func (f *fakeSynth) Synthesize(_ context.Context, _ tts.Request) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.audio, nil
}

func (f *fakeSynth) Voices() []string { return tts.KnownVoices }

type fakeGenerator struct {
	reply string
	err   error
	last  []chat.Message
}

func (f *fakeGenerator) Generate(_ context.Context, req chat.Request) (chat.Response, error) {
	f.last = req.Messages
	if f.err != nil {
		return chat.Response{}, f.err
	}
	return chat.Response{Content: f.reply}, nil
}

type harness struct {
	svc   *Service
	stt   *fakeTranscriber
	tts   *fakeSynth
	chat  *fakeGenerator
	store *session.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()

	sttReg := capability.NewRegistry[stt.Transcriber]("stt", log)
	transcriber := &fakeTranscriber{name: "primary", text: "Hello"}
	sttReg.Register(transcriber, 0)

	ttsReg := capability.NewRegistry[tts.Synthesizer]("tts", log)
	synth := &fakeSynth{name: "primary", audio: []byte("AUDIO")}
	ttsReg.Register(synth, 0)

	gen := &fakeGenerator{reply: "Hi there!"}
	store := session.NewStore(cfg.Session.MaxMessages)
	cache, err := audiocache.New(cfg.Cache.Capacity, 0, log)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	svc := NewService(cfg, Deps{
		STT:      sttReg,
		TTS:      ttsReg,
		Chat:     gen,
		Sessions: store,
		Cache:    cache,
		Pool:     worker.NewPool(4, 4, log),
	}, log)

	return &harness{svc: svc, stt: transcriber, tts: synth, chat: gen, store: store}
}

func TestConverseTextTurnWithAudio(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Converse(context.Background(), Request{
		Text:      "Hello",
		WantAudio: true,
	})
	if err != nil {
		t.Fatalf("converse: %v", err)
	}
	if res.Reply != "Hi there!" {
		t.Fatalf("unexpected reply %q", res.Reply)
	}
	if !bytes.Equal(res.Audio, []byte("AUDIO")) || res.AudioStatus != AudioStatusOK {
		t.Fatalf("unexpected audio result: %q status %q", res.Audio, res.AudioStatus)
	}
	if res.Voice != "en-US-GuyNeural" {
		t.Fatalf("unexpected voice %q", res.Voice)
	}
	if res.SessionID == "" {
		t.Fatal("expected a minted session id")
	}
	window := h.store.Window(res.SessionID, 10)
	if len(window) != 2 || window[0].Role != chat.RoleUser || window[1].Role != chat.RoleAssistant {
		t.Fatalf("unexpected history: %+v", window)
	}
}

func TestConverseAudioTurnTranscribes(t *testing.T) {
	h := newHarness(t)
	h.stt.text = "what time is it"
	res, err := h.svc.Converse(context.Background(), Request{
		Audio:       []byte("pcm"),
		AudioFormat: "wav",
	})
	if err != nil {
		t.Fatalf("converse: %v", err)
	}
	if res.Transcript != "what time is it" || res.STTProvider != "primary" {
		t.Fatalf("unexpected transcript: %+v", res)
	}
	if res.AudioStatus != AudioStatusSkipped {
		t.Fatalf("expected skipped audio, got %q", res.AudioStatus)
	}
}

func TestConverseRejectsEmptyInput(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Converse(context.Background(), Request{})
	var inputErr *InvalidInputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
}

func TestConverseRejectsAudioAndTextTogether(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Converse(context.Background(), Request{
		Audio:       []byte("pcm"),
		AudioFormat: "wav",
		Text:        "hello",
	})
	var inputErr *InvalidInputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
	if h.stt.calls != 0 {
		t.Fatalf("ambiguous turn should not reach transcription, got %d calls", h.stt.calls)
	}
}

func TestConverseTranscriptionFailureLeavesHistoryUntouched(t *testing.T) {
	h := newHarness(t)
	h.stt.err = errors.New("quota exceeded")
	_, err := h.svc.Converse(context.Background(), Request{
		SessionID: "s1",
		Audio:     []byte("pcm"),
	})
	var trErr *TranscriptionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TranscriptionError, got %v", err)
	}
	var exhausted *capability.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected wrapped ExhaustedError, got %v", err)
	}
	if h.store.Len("s1") != 0 {
		t.Fatal("history mutated on failed turn")
	}
}

func TestConverseSTTFallbackProvider(t *testing.T) {
	h := newHarness(t)
	h.stt.err = errors.New("down")
	backup := &fakeTranscriber{name: "backup", text: "fallback heard"}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := capability.NewRegistry[stt.Transcriber]("stt", log)
	reg.Register(h.stt, 0)
	reg.Register(backup, 1)
	h.svc.stt = reg

	res, err := h.svc.Converse(context.Background(), Request{Audio: []byte("pcm")})
	if err != nil {
		t.Fatalf("converse: %v", err)
	}
	if res.STTProvider != "backup" || res.Transcript != "fallback heard" {
		t.Fatalf("expected fallback provider, got %+v", res)
	}
	if h.stt.calls != 1 || backup.calls != 1 {
		t.Fatalf("unexpected attempt counts: %d/%d", h.stt.calls, backup.calls)
	}
}

func TestConverseChatFailureLeavesHistoryUntouched(t *testing.T) {
	h := newHarness(t)
	h.chat.err = errors.New("model unavailable")
	_, err := h.svc.Converse(context.Background(), Request{SessionID: "s1", Text: "hi"})
	var chatErr *ChatError
	if !errors.As(err, &chatErr) {
		t.Fatalf("expected ChatError, got %v", err)
	}
	if h.store.Len("s1") != 0 {
		t.Fatal("history mutated on failed turn")
	}
}

func TestConverseUnsafeReplySubstitutesFallback(t *testing.T) {
	h := newHarness(t)
	h.chat.reply = strings.Repeat("x", h.svc.cfg.Sanitize.MaxMessageLength+1)
	res, err := h.svc.Converse(context.Background(), Request{SessionID: "s1", Text: "hi"})
	if err != nil {
		t.Fatalf("expected degraded success, got %v", err)
	}
	if res.Reply != fallbackReply {
		t.Fatalf("expected fallback reply, got %q", res.Reply)
	}
	if h.store.Len("s1") != 2 {
		t.Fatal("fallback turn should still be recorded")
	}
}

func TestConverseSynthesisFailureDegradesToText(t *testing.T) {
	h := newHarness(t)
	h.tts.err = errors.New("socket closed")
	res, err := h.svc.Converse(context.Background(), Request{
		SessionID: "s1",
		Text:      "hi",
		WantAudio: true,
	})
	if err != nil {
		t.Fatalf("expected text-only success, got %v", err)
	}
	if res.AudioStatus != AudioStatusFailed || res.Audio != nil {
		t.Fatalf("expected failed audio status, got %+v", res)
	}
	if res.Reply != "Hi there!" {
		t.Fatalf("reply lost on degraded turn: %q", res.Reply)
	}
	if h.store.Len("s1") != 2 {
		t.Fatal("degraded turn should still be recorded")
	}
}

func TestSynthesizeUsesCacheOnRepeat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	audio1, voice, cached, err := h.svc.Synthesize(ctx, "Hello there", "", 1.0)
	if err != nil || cached {
		t.Fatalf("first synthesis: %v cached=%v", err, cached)
	}
	audio2, _, cached, err := h.svc.Synthesize(ctx, "Hello there", voice, 1.0)
	if err != nil || !cached {
		t.Fatalf("second synthesis: %v cached=%v", err, cached)
	}
	if !bytes.Equal(audio1, audio2) {
		t.Fatal("cached audio differs")
	}
	if h.tts.calls != 1 {
		t.Fatalf("expected 1 synthesis call, got %d", h.tts.calls)
	}
}

func TestSynthesizeRejectsBadSpeed(t *testing.T) {
	h := newHarness(t)
	_, _, _, err := h.svc.Synthesize(context.Background(), "hi", "", 9.0)
	var secErr *sanitize.SecurityError
	if !errors.As(err, &secErr) {
		t.Fatalf("expected SecurityError, got %v", err)
	}
}

func TestChatUsesClientHistory(t *testing.T) {
	h := newHarness(t)
	history := []sanitize.HistoryMessage{
		{Role: "user", Content: "my name is Ada"},
		{Role: "assistant", Content: "Nice to meet you, Ada"},
	}
	reply, sessionID, err := h.svc.Chat(context.Background(), "", "what is my name?", history)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "Hi there!" || sessionID != "" {
		t.Fatalf("unexpected result: %q %q", reply, sessionID)
	}

	// System prompt, two history entries, then the new user message.
	if len(h.chat.last) != 4 {
		t.Fatalf("expected 4 prompt messages, got %d", len(h.chat.last))
	}
	if h.chat.last[1].Content != "my name is Ada" {
		t.Fatalf("history not forwarded: %+v", h.chat.last)
	}
}

func TestChatWithoutSessionLeavesNoState(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 100; i++ {
		if _, _, err := h.svc.Chat(context.Background(), "", "hi", nil); err != nil {
			t.Fatalf("chat %d: %v", i, err)
		}
	}
	if n := h.store.Count(); n != 0 {
		t.Fatalf("stateless chats left %d sessions behind", n)
	}
}

func TestChatWithSessionPersistsExchange(t *testing.T) {
	h := newHarness(t)
	reply, sessionID, err := h.svc.Chat(context.Background(), "s1", "hi", nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "Hi there!" || sessionID != "s1" {
		t.Fatalf("unexpected result: %q %q", reply, sessionID)
	}
	window := h.store.Window("s1", 10)
	if len(window) != 2 || window[0].Role != chat.RoleUser || window[1].Role != chat.RoleAssistant {
		t.Fatalf("unexpected history: %+v", window)
	}
}

func TestTranscribeRejectsOversizedAudio(t *testing.T) {
	h := newHarness(t)
	h.svc.cfg.STT.MaxUploadBytes = 4
	_, err := h.svc.Transcribe(context.Background(), []byte("too big"), "wav", "en")
	var inputErr *InvalidInputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
}

func TestTranscribeRejectsUnknownFormat(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Transcribe(context.Background(), []byte("pcm"), "exe", "en")
	var inputErr *InvalidInputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
}

func TestSwitchProvider(t *testing.T) {
	h := newHarness(t)
	if err := h.svc.SwitchProvider("tts", "primary"); err != nil {
		t.Fatalf("switch known provider: %v", err)
	}
	err := h.svc.SwitchProvider("tts", "nope")
	var unknown *capability.UnknownProviderError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownProviderError, got %v", err)
	}
}
