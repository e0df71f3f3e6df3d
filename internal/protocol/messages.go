// Package protocol defines the WebSocket envelope exchanged with clients and
// the subjects used when pipeline events are mirrored onto the bus.
package protocol

import (
	"encoding/json"
	"time"
)

// Envelope is the framing for every WebSocket message in both directions.
// Payload shape depends on Type.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client to server message types.
const (
	TypeTextMessage    = "text_message"
	TypeAudioData      = "audio_data"
	TypeStartRecording = "start_recording"
	TypeStopRecording  = "stop_recording"
	TypeGetVoices      = "get_voices"
	TypePing           = "ping"
)

// Server to client message types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeTranscriptionResult   = "transcription_result"
	TypeAIResponse            = "ai_response"
	TypeTTSAudio              = "tts_audio"
	TypeRecordingStarted      = "recording_started"
	TypeRecordingStopped      = "recording_stopped"
	TypeVoicesList            = "voices_list"
	TypePong                  = "pong"
	TypeError                 = "error"
)

// TextMessage asks for a chat turn, optionally followed by synthesis.
type TextMessage struct {
	Text      string  `json:"text"`
	Voice     string  `json:"voice,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	WantAudio bool    `json:"want_audio,omitempty"`
}

// AudioData carries one recorded utterance for a full voice turn.
type AudioData struct {
	Audio    []byte  `json:"audio"`
	Format   string  `json:"format,omitempty"`
	Language string  `json:"language,omitempty"`
	Voice    string  `json:"voice,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
}

// ConnectionEstablished is the first server message on a new socket.
type ConnectionEstablished struct {
	SessionID string `json:"session_id"`
	Server    string `json:"server"`
	Version   string `json:"version"`
}

// TranscriptionResult reports what speech recognition heard.
type TranscriptionResult struct {
	Text     string `json:"text"`
	Provider string `json:"provider,omitempty"`
}

// AIResponse carries the assistant's reply text.
type AIResponse struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// TTSAudio carries synthesized speech. Status is "ok" when Audio is present,
// "failed" when synthesis was skipped or exhausted and the turn degraded to
// text only.
type TTSAudio struct {
	Audio  []byte `json:"audio,omitempty"`
	Voice  string `json:"voice,omitempty"`
	Status string `json:"status"`
	Cached bool   `json:"cached,omitempty"`
}

// VoicesList enumerates synthesizer voices.
type VoicesList struct {
	Voices  []string `json:"voices"`
	Default string   `json:"default"`
}

// ErrorMessage reports a failed turn without closing the socket.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Bus subjects for pipeline events, published when the bus is enabled.
const (
	SubjectTranscriptFinal = "stt.text.final"
	SubjectChatResponse    = "chat.response.final"
	SubjectAudioDone       = "tts.audio.done"
)

// TranscriptEvent is broadcast on SubjectTranscriptFinal.
type TranscriptEvent struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Provider  string    `json:"provider,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatEvent is broadcast on SubjectChatResponse.
type ChatEvent struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioEvent is broadcast on SubjectAudioDone.
type AudioEvent struct {
	SessionID string    `json:"session_id"`
	Voice     string    `json:"voice"`
	Bytes     int       `json:"bytes"`
	Cached    bool      `json:"cached"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
