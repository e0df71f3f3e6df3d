// Package gateway exposes the conversation pipeline over HTTP and WebSocket.
// Handlers translate transport concerns (multipart uploads, status codes,
// envelopes) and keep provider failure details out of client responses.
package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/voxa-labs/voxa-core/internal/capability"
	"github.com/voxa-labs/voxa-core/internal/pipeline"
	"github.com/voxa-labs/voxa-core/internal/sanitize"
	"github.com/voxa-labs/voxa-core/internal/worker"
)

// Server routes API requests into the pipeline.
type Server struct {
	pipeline *pipeline.Service
	log      *slog.Logger
	version  string
}

func NewServer(p *pipeline.Service, version string, log *slog.Logger) *Server {
	return &Server{
		pipeline: p,
		log:      log.With(slog.String("component", "gateway")),
		version:  version,
	}
}

// Register mounts all API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/voice/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /api/voice/synthesize", s.handleSynthesize)
	mux.HandleFunc("POST /api/voice/conversation", s.handleConversation)
	mux.HandleFunc("GET /api/voice/voices", s.handleVoices)
	mux.HandleFunc("GET /api/voice/providers", s.handleListProviders)
	mux.HandleFunc("POST /api/voice/providers", s.handleSwitchProvider)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("/ws/voice-chat", s.handleWebSocket)
}

type chatRequest struct {
	Message   string                    `json:"message"`
	SessionID string                    `json:"session_id,omitempty"`
	History   []sanitize.HistoryMessage `json:"history,omitempty"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &pipeline.InvalidInputError{Reason: "malformed JSON body"})
		return
	}
	reply, sessionID, err := s.pipeline.Chat(r.Context(), req.SessionID, req.Message, req.History)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, chatResponse{Response: reply, SessionID: sessionID})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	audio, format, ok, err := s.readAudioUpload(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		s.writeError(w, &pipeline.InvalidInputError{Reason: "missing audio upload"})
		return
	}
	res, err := s.pipeline.Transcribe(r.Context(), audio, format, r.FormValue("language"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"transcribed_text": res.Text,
		"model_used":       res.Model,
		"language":         res.Language,
		"provider":         res.Provider,
	})
}

type synthesizeRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &pipeline.InvalidInputError{Reason: "malformed JSON body"})
		return
	}
	audio, voice, cached, err := s.pipeline.Synthesize(r.Context(), req.Text, req.Voice, req.Speed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"audio_data": base64.StdEncoding.EncodeToString(audio),
		"format":     "mp3",
		"voice_used": voice,
		"size_bytes": len(audio),
		"cached":     cached,
	})
}

type conversationResponse struct {
	SessionID   string `json:"session_id"`
	Transcript  string `json:"transcribed_text"`
	Response    string `json:"ai_response"`
	Audio       string `json:"audio_data,omitempty"`
	AudioStatus string `json:"audio_status"`
	Voice       string `json:"voice_used,omitempty"`
	Cached      bool   `json:"cached,omitempty"`
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	audio, format, ok, err := s.readAudioUpload(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// A turn is either a recorded clip or a typed message.
	text := ""
	if !ok {
		text = strings.TrimSpace(r.FormValue("text"))
		if text == "" {
			s.writeError(w, &pipeline.InvalidInputError{Reason: "provide an audio upload or a text field"})
			return
		}
	}
	speed := 0.0
	if v := r.FormValue("speed"); v != "" {
		speed, err = strconv.ParseFloat(v, 64)
		if err != nil {
			s.writeError(w, &pipeline.InvalidInputError{Reason: "speed must be a number"})
			return
		}
	}

	res, err := s.pipeline.Converse(r.Context(), pipeline.Request{
		SessionID:   r.FormValue("session_id"),
		Audio:       audio,
		AudioFormat: format,
		Text:        text,
		Language:    r.FormValue("language"),
		Voice:       r.FormValue("voice"),
		Speed:       speed,
		WantAudio:   true,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conversationResponse{
		SessionID:   res.SessionID,
		Transcript:  res.Transcript,
		Response:    res.Reply,
		Audio:       base64.StdEncoding.EncodeToString(res.Audio),
		AudioStatus: res.AudioStatus,
		Voice:       res.Voice,
		Cached:      res.Cached,
	})
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices, def := s.pipeline.Voices()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"voices":  voices,
		"default": def,
	})
}

func (s *Server) handleListProviders(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pipeline.Providers())
}

type switchProviderRequest struct {
	Capability string `json:"capability"`
	Provider   string `json:"provider"`
}

func (s *Server) handleSwitchProvider(w http.ResponseWriter, r *http.Request) {
	var req switchProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &pipeline.InvalidInputError{Reason: "malformed JSON body"})
		return
	}
	if err := s.pipeline.SwitchProvider(req.Capability, req.Provider); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"capability": req.Capability,
		"current":    req.Provider,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service":   "voxa-core",
		"version":   s.version,
		"sessions":  s.pipeline.Sessions().Count(),
		"cache":     s.pipeline.CacheStats(),
		"providers": s.pipeline.Providers(),
	})
}

// readAudioUpload pulls the uploaded clip from a multipart form, accepting
// either an "audio" or "file" field, and derives the format from the
// validated filename. ok is false when the form carries no file at all;
// a malformed upload is an error.
func (s *Server) readAudioUpload(r *http.Request) ([]byte, string, bool, error) {
	file, header, err := r.FormFile("audio")
	if err != nil {
		file, header, err = r.FormFile("file")
	}
	if err != nil {
		return nil, "", false, nil
	}
	defer file.Close()

	if _, err := sanitize.Filename(header.Filename); err != nil {
		return nil, "", true, err
	}
	format, err := sanitize.AudioFormat(header.Filename)
	if err != nil {
		return nil, "", true, err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", true, &pipeline.InvalidInputError{Reason: "failed to read audio upload"}
	}
	return data, format, true, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("encode response", slog.String("error", err.Error()))
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps pipeline errors onto status codes. Upstream provider
// detail stays in the logs; clients get a stable code and a safe message.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		inputErr   *pipeline.InvalidInputError
		secErr     *sanitize.SecurityError
		unknownErr *capability.UnknownProviderError
		sttErr     *pipeline.TranscriptionError
		chatErr    *pipeline.ChatError
		synthErr   *pipeline.SynthesisError
	)
	switch {
	case errors.As(err, &inputErr):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: inputErr.Reason, Code: "invalid_input"})
	case errors.As(err, &secErr):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: secErr.Reason, Code: "rejected_input"})
	case errors.As(err, &unknownErr):
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: unknownErr.Error(), Code: "unknown_provider"})
	case errors.Is(err, worker.ErrSaturated):
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "server busy, try again shortly", Code: "overloaded"})
	case errors.As(err, &sttErr):
		s.log.Error("transcription failed", slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusBadGateway, errorBody{Error: "speech recognition is unavailable", Code: "transcription_failed"})
	case errors.As(err, &chatErr):
		s.log.Error("chat completion failed", slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusBadGateway, errorBody{Error: "the assistant is unavailable", Code: "chat_failed"})
	case errors.As(err, &synthErr):
		s.log.Error("synthesis failed", slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusBadGateway, errorBody{Error: "speech synthesis is unavailable", Code: "synthesis_failed"})
	default:
		s.log.Error("unhandled error", slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
	}
}
