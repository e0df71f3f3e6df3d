// Package pipeline orchestrates one conversation turn: speech recognition,
// sanitization, chat completion, history bookkeeping and speech synthesis.
// The failure contract is strict about history: nothing is appended to a
// session until both the user text and the assistant reply are in hand, so a
// failed turn is invisible to the next one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxa-labs/voxa-core/internal/audiocache"
	"github.com/voxa-labs/voxa-core/internal/bus"
	"github.com/voxa-labs/voxa-core/internal/capability"
	"github.com/voxa-labs/voxa-core/internal/chat"
	"github.com/voxa-labs/voxa-core/internal/config"
	"github.com/voxa-labs/voxa-core/internal/protocol"
	"github.com/voxa-labs/voxa-core/internal/sanitize"
	"github.com/voxa-labs/voxa-core/internal/session"
	"github.com/voxa-labs/voxa-core/internal/stt"
	"github.com/voxa-labs/voxa-core/internal/transcript"
	"github.com/voxa-labs/voxa-core/internal/tts"
	"github.com/voxa-labs/voxa-core/internal/worker"
)

// Audio synthesis outcomes for a conversation turn.
const (
	AudioStatusOK      = "ok"
	AudioStatusFailed  = "failed"
	AudioStatusSkipped = "skipped"
)

// fallbackReply is spoken when the model's own output fails sanitization.
const fallbackReply = "I'm sorry, I couldn't produce a safe response to that. Could you rephrase?"

// Request is one conversation turn. Exactly one of Audio or Text must be set.
type Request struct {
	SessionID   string
	Audio       []byte
	AudioFormat string
	Text        string
	Language    string
	Voice       string
	Speed       float64
	WantAudio   bool
}

// Result is the outcome of a successful turn. Audio may be empty even on
// success: synthesis degrades to text rather than failing the turn.
type Result struct {
	SessionID   string
	Transcript  string
	STTProvider string
	Reply       string
	Voice       string
	Audio       []byte
	AudioStatus string
	Cached      bool
}

// Service wires the capability registries, session store and audio cache into
// the conversation state machine.
type Service struct {
	cfg         config.Config
	log         *slog.Logger
	stt         *capability.Registry[stt.Transcriber]
	tts         *capability.Registry[tts.Synthesizer]
	chat        chat.Generator
	sessions    *session.Store
	cache       *audiocache.Cache
	pool        *worker.Pool
	bus         *bus.Client
	transcripts *transcript.Store

	tracer trace.Tracer
	turns  metric.Int64Counter
}

// Deps carries the collaborators the runtime constructs from config.
type Deps struct {
	STT         *capability.Registry[stt.Transcriber]
	TTS         *capability.Registry[tts.Synthesizer]
	Chat        chat.Generator
	Sessions    *session.Store
	Cache       *audiocache.Cache
	Pool        *worker.Pool
	Bus         *bus.Client
	Transcripts *transcript.Store
}

func NewService(cfg config.Config, deps Deps, log *slog.Logger) *Service {
	s := &Service{
		cfg:         cfg,
		log:         log.With(slog.String("component", "pipeline")),
		stt:         deps.STT,
		tts:         deps.TTS,
		chat:        deps.Chat,
		sessions:    deps.Sessions,
		cache:       deps.Cache,
		pool:        deps.Pool,
		bus:         deps.Bus,
		transcripts: deps.Transcripts,
		tracer:      otel.Tracer("github.com/voxa-labs/voxa-core/pipeline"),
	}
	meter := otel.Meter("github.com/voxa-labs/voxa-core/pipeline")
	counter, err := meter.Int64Counter("voxa.pipeline.turns",
		metric.WithDescription("Conversation turns by outcome"))
	if err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	} else {
		s.turns = counter
	}
	return s
}

// Converse runs one full turn. Failure semantics by stage:
//
//	no input, oversized audio    -> InvalidInputError, history untouched
//	transcription exhausted      -> TranscriptionError, history untouched
//	input sanitization           -> sanitize.SecurityError, history untouched
//	chat completion              -> ChatError, history untouched
//	reply sanitization           -> success with a fallback reply
//	synthesis exhausted          -> success, AudioStatus "failed"
func (s *Service) Converse(ctx context.Context, req Request) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.converse")
	defer span.End()

	res, err := s.converse(ctx, req)
	s.observeTurn(ctx, err)
	return res, err
}

func (s *Service) converse(ctx context.Context, req Request) (Result, error) {
	if len(req.Audio) == 0 && req.Text == "" {
		return Result{}, &InvalidInputError{Reason: "either audio or text is required"}
	}
	if len(req.Audio) > 0 && req.Text != "" {
		return Result{}, &InvalidInputError{Reason: "provide audio or text, not both"}
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = session.NewSessionID()
	}
	res := Result{SessionID: sessionID, AudioStatus: AudioStatusSkipped}

	userText := req.Text
	if len(req.Audio) > 0 {
		sttRes, err := s.Transcribe(ctx, req.Audio, req.AudioFormat, req.Language)
		if err != nil {
			return Result{}, err
		}
		userText = sttRes.Text
		res.Transcript = sttRes.Text
		res.STTProvider = sttRes.Provider
	}

	userText, err := sanitize.Clean(userText, s.cfg.Sanitize.MaxTextLength)
	if err != nil {
		return Result{}, err
	}
	if userText == "" {
		return Result{}, &InvalidInputError{Reason: "no speech detected"}
	}

	reply, err := s.complete(ctx, sessionID, userText)
	if err != nil {
		return Result{}, err
	}

	reply, sanErr := sanitize.Clean(reply, s.cfg.Sanitize.MaxMessageLength)
	if sanErr != nil || reply == "" {
		s.log.Warn("model reply failed sanitization, substituting fallback",
			slog.String("session_id", sessionID))
		reply = fallbackReply
	}
	res.Reply = reply

	s.sessions.AppendExchange(sessionID,
		session.Message{Role: chat.RoleUser, Content: userText},
		session.Message{Role: chat.RoleAssistant, Content: reply},
	)
	s.record(ctx, sessionID, userText, reply, res.STTProvider)

	if req.WantAudio {
		audio, voice, cached, err := s.Synthesize(ctx, sanitize.SpeakableText(reply), req.Voice, req.Speed)
		res.Voice = voice
		if err != nil {
			s.log.Warn("synthesis failed, degrading to text",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
			res.AudioStatus = AudioStatusFailed
		} else {
			res.Audio = audio
			res.Cached = cached
			res.AudioStatus = AudioStatusOK
		}
		s.publishAudio(sessionID, res)
	}

	return res, nil
}

// TranscriptionResult reports a standalone speech recognition call.
type TranscriptionResult struct {
	Text     string
	Provider string
	Model    string
	Language string
}

// Transcribe runs speech recognition through the provider fallback chain.
func (s *Service) Transcribe(ctx context.Context, audio []byte, format, language string) (TranscriptionResult, error) {
	if len(audio) == 0 {
		return TranscriptionResult{}, &InvalidInputError{Reason: "audio is empty"}
	}
	if max := s.cfg.STT.MaxUploadBytes; max > 0 && int64(len(audio)) > max {
		return TranscriptionResult{}, &InvalidInputError{Reason: fmt.Sprintf("audio exceeds %d bytes", max)}
	}
	if format == "" {
		format = "wav"
	}
	if _, err := sanitize.AudioFormat("clip." + format); err != nil {
		return TranscriptionResult{}, &InvalidInputError{Reason: fmt.Sprintf("unsupported audio format %q", format)}
	}
	if language == "" {
		language = s.cfg.STT.DefaultLanguage
	}
	language, err := sanitize.Language(language)
	if err != nil {
		return TranscriptionResult{}, err
	}

	var out TranscriptionResult
	err = s.pool.Do(ctx, "stt", s.timeout(s.cfg.STT.TimeoutMS), func(ctx context.Context) error {
		return s.stt.Invoke(ctx, func(ctx context.Context, p stt.Transcriber) error {
			r, err := p.Transcribe(ctx, stt.Request{Audio: audio, Format: format, Language: language})
			if err != nil {
				return err
			}
			out = TranscriptionResult{Text: r.Text, Provider: p.Name(), Model: r.Model, Language: language}
			return nil
		})
	})
	if err != nil {
		if isSaturated(err) {
			return TranscriptionResult{}, err
		}
		return TranscriptionResult{}, &TranscriptionError{Err: err}
	}

	s.publishTranscript(out)
	return out, nil
}

// complete runs one completion against the active history window plus the
// given user text. The history is not mutated.
func (s *Service) complete(ctx context.Context, sessionID, userText string) (string, error) {
	messages := make([]chat.Message, 0, s.cfg.Session.ContextWindow+2)
	if s.cfg.Chat.SystemPrompt != "" {
		messages = append(messages, chat.Message{Role: chat.RoleSystem, Content: s.cfg.Chat.SystemPrompt})
	}
	for _, m := range s.sessions.Window(sessionID, s.cfg.Session.ContextWindow) {
		messages = append(messages, chat.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chat.Message{Role: chat.RoleUser, Content: userText})

	return s.generate(ctx, sessionID, messages)
}

func (s *Service) generate(ctx context.Context, sessionID string, messages []chat.Message) (string, error) {
	var reply string
	err := s.pool.Do(ctx, "chat", s.timeout(s.cfg.Chat.TimeoutMS), func(ctx context.Context) error {
		resp, err := s.chat.Generate(ctx, chat.Request{
			Messages:    messages,
			Temperature: s.cfg.Chat.Temperature,
			MaxTokens:   s.cfg.Chat.MaxTokens,
		})
		if err != nil {
			return err
		}
		reply = resp.Content
		return nil
	})
	if err != nil {
		if isSaturated(err) {
			return "", err
		}
		return "", &ChatError{Err: err}
	}

	s.publishChat(sessionID, reply)
	return reply, nil
}

// Chat answers a text-only request. With a session id the exchange joins
// that session's history. Without one the call is stateless: the prompt is
// built from the client-supplied history alone and nothing is stored, so
// plain HTTP chat traffic leaves no server-side state behind.
func (s *Service) Chat(ctx context.Context, sessionID, text string, history []sanitize.HistoryMessage) (string, string, error) {
	text, err := sanitize.Clean(text, s.cfg.Sanitize.MaxTextLength)
	if err != nil {
		return "", "", err
	}
	if text == "" {
		return "", "", &InvalidInputError{Reason: "message is empty"}
	}
	clean, err := sanitize.History(history, s.cfg.Sanitize.MaxHistory, s.cfg.Sanitize.MaxMessageLength)
	if err != nil {
		return "", "", err
	}

	var reply string
	if sessionID == "" {
		messages := make([]chat.Message, 0, len(clean)+2)
		if s.cfg.Chat.SystemPrompt != "" {
			messages = append(messages, chat.Message{Role: chat.RoleSystem, Content: s.cfg.Chat.SystemPrompt})
		}
		for _, m := range clean {
			messages = append(messages, chat.Message{Role: m.Role, Content: m.Content})
		}
		messages = append(messages, chat.Message{Role: chat.RoleUser, Content: text})
		reply, err = s.generate(ctx, "", messages)
	} else {
		for _, m := range clean {
			s.sessions.Append(sessionID, session.Message{Role: m.Role, Content: m.Content})
		}
		reply, err = s.complete(ctx, sessionID, text)
	}
	if err != nil {
		return "", "", err
	}

	reply, sanErr := sanitize.Clean(reply, s.cfg.Sanitize.MaxMessageLength)
	if sanErr != nil || reply == "" {
		reply = fallbackReply
	}

	if sessionID != "" {
		s.sessions.AppendExchange(sessionID,
			session.Message{Role: chat.RoleUser, Content: text},
			session.Message{Role: chat.RoleAssistant, Content: reply},
		)
		s.record(ctx, sessionID, text, reply, "")
	}
	return reply, sessionID, nil
}

// Synthesize produces speech for text, consulting the audio cache first. The
// reported voice is the resolved one, after alias mapping and defaulting.
func (s *Service) Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, string, bool, error) {
	if text == "" {
		return nil, "", false, &InvalidInputError{Reason: "text is empty"}
	}
	if voice == "" {
		voice = s.cfg.TTS.DefaultVoice
	}
	resolved := tts.MapVoice(voice)
	speed, err := sanitize.Speed(speed, s.cfg.TTS.MinSpeed, s.cfg.TTS.MaxSpeed)
	if err != nil {
		return nil, "", false, err
	}

	key := audiocache.Fingerprint(text, resolved, speed)
	if audio := s.cache.Get(key); audio != nil {
		return audio, resolved, true, nil
	}

	var audio []byte
	err = s.pool.Do(ctx, "tts", s.timeout(s.cfg.TTS.TimeoutMS), func(ctx context.Context) error {
		return s.tts.Invoke(ctx, func(ctx context.Context, p tts.Synthesizer) error {
			data, err := p.Synthesize(ctx, tts.Request{Text: text, Voice: resolved, Speed: speed})
			if err != nil {
				return err
			}
			audio = data
			return nil
		})
	})
	if err != nil {
		if isSaturated(err) {
			return nil, resolved, false, err
		}
		return nil, resolved, false, &SynthesisError{Err: err}
	}

	prefix := text
	if len(prefix) > 40 {
		prefix = prefix[:40]
	}
	s.cache.Put(key, audio, audiocache.Metadata{TextPrefix: prefix, Voice: resolved, Speed: speed})
	return audio, resolved, false, nil
}

// Voices lists the voices the current synthesizer offers.
func (s *Service) Voices() ([]string, string) {
	p, err := s.tts.Current()
	if err != nil {
		return tts.KnownVoices, s.cfg.TTS.DefaultVoice
	}
	return p.Voices(), s.cfg.TTS.DefaultVoice
}

// Providers reports both registries for the diagnostics endpoint.
func (s *Service) Providers() map[string][]capability.Descriptor {
	return map[string][]capability.Descriptor{
		"stt": s.stt.Descriptors(),
		"tts": s.tts.Descriptors(),
	}
}

// SwitchProvider changes the preferred backend for a capability.
func (s *Service) SwitchProvider(capabilityName, provider string) error {
	switch capabilityName {
	case "stt":
		return s.stt.SwitchCurrent(provider)
	case "tts":
		return s.tts.SwitchCurrent(provider)
	default:
		return &capability.UnknownProviderError{Capability: capabilityName, Name: provider}
	}
}

// Sessions exposes the session store for connection lifecycle management.
func (s *Service) Sessions() *session.Store {
	return s.sessions
}

// CacheStats exposes audio cache counters for the status endpoint.
func (s *Service) CacheStats() audiocache.Stats {
	return s.cache.Stats()
}

func (s *Service) timeout(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func isSaturated(err error) bool {
	return errors.Is(err, worker.ErrSaturated)
}

func (s *Service) record(ctx context.Context, sessionID, userText, reply, provider string) {
	if s.transcripts == nil || !s.transcripts.Enabled() {
		return
	}
	if err := s.transcripts.RecordSession(ctx, sessionID); err != nil {
		s.log.Warn("record session", slog.String("error", err.Error()))
		return
	}
	err := s.transcripts.RecordExchange(ctx, transcript.Exchange{
		SessionID: sessionID,
		UserText:  userText,
		ReplyText: reply,
		Provider:  provider,
	})
	if err != nil {
		s.log.Warn("record exchange", slog.String("error", err.Error()))
	}
}

func (s *Service) publishTranscript(res TranscriptionResult) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(protocol.SubjectTranscriptFinal, protocol.TranscriptEvent{
		Text:      res.Text,
		Provider:  res.Provider,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) publishChat(sessionID, text string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(protocol.SubjectChatResponse, protocol.ChatEvent{
		SessionID: sessionID,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) publishAudio(sessionID string, res Result) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(protocol.SubjectAudioDone, protocol.AudioEvent{
		SessionID: sessionID,
		Voice:     res.Voice,
		Bytes:     len(res.Audio),
		Cached:    res.Cached,
		Status:    res.AudioStatus,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) observeTurn(ctx context.Context, err error) {
	if s.turns == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
