package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxa-labs/voxa-core/internal/pipeline"
	"github.com/voxa-labs/voxa-core/internal/protocol"
	"github.com/voxa-labs/voxa-core/internal/sanitize"
	"github.com/voxa-labs/voxa-core/internal/session"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsMaxMessageSize = 30 << 20 // audio payloads arrive base64 inside JSON
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The daemon fronts browser clients during development; origin policy
	// belongs to the reverse proxy in production.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn owns one client socket and its conversation session.
type wsConn struct {
	srv       *Server
	conn      *websocket.Conn
	sessionID string
	log       *slog.Logger
	recording bool
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sessionID := session.NewSessionID()
	s.pipeline.Sessions().GetOrCreate(sessionID)
	c := &wsConn{
		srv:       s,
		conn:      conn,
		sessionID: sessionID,
		log:       s.log.With(slog.String("session_id", sessionID)),
	}
	defer c.close()

	conn.SetReadLimit(wsMaxMessageSize)
	c.send(protocol.TypeConnectionEstablished, protocol.ConnectionEstablished{
		SessionID: sessionID,
		Server:    "voxa-core",
		Version:   s.version,
	})

	c.log.Info("websocket connected")
	c.readLoop(r.Context())
}

func (c *wsConn) close() {
	c.srv.pipeline.Sessions().Delete(c.sessionID)
	c.conn.Close()
	c.log.Info("websocket closed")
}

func (c *wsConn) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read error", slog.String("error", err.Error()))
			}
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("bad_envelope", "message is not a valid envelope")
			continue
		}
		c.dispatch(ctx, env)
	}
}

func (c *wsConn) dispatch(ctx context.Context, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypePing:
		c.send(protocol.TypePong, nil)

	case protocol.TypeStartRecording:
		c.recording = true
		c.send(protocol.TypeRecordingStarted, nil)

	case protocol.TypeStopRecording:
		c.recording = false
		c.send(protocol.TypeRecordingStopped, nil)

	case protocol.TypeGetVoices:
		voices, def := c.srv.pipeline.Voices()
		c.send(protocol.TypeVoicesList, protocol.VoicesList{Voices: voices, Default: def})

	case protocol.TypeTextMessage:
		var msg protocol.TextMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			c.sendError("bad_payload", "text_message payload is malformed")
			return
		}
		c.handleTurn(ctx, pipeline.Request{
			SessionID: c.sessionID,
			Text:      msg.Text,
			Voice:     msg.Voice,
			Speed:     msg.Speed,
			WantAudio: msg.WantAudio,
		})

	case protocol.TypeAudioData:
		var msg protocol.AudioData
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			c.sendError("bad_payload", "audio_data payload is malformed")
			return
		}
		c.handleTurn(ctx, pipeline.Request{
			SessionID:   c.sessionID,
			Audio:       msg.Audio,
			AudioFormat: msg.Format,
			Language:    msg.Language,
			Voice:       msg.Voice,
			Speed:       msg.Speed,
			WantAudio:   true,
		})

	default:
		c.sendError("unknown_type", "unsupported message type "+env.Type)
	}
}

// handleTurn runs one conversation turn and streams its stages back in the
// order a client renders them: transcript first, then the reply, then audio.
func (c *wsConn) handleTurn(ctx context.Context, req pipeline.Request) {
	res, err := c.srv.pipeline.Converse(ctx, req)
	if err != nil {
		c.sendError(errorCode(err), "turn failed")
		return
	}

	if res.Transcript != "" {
		c.send(protocol.TypeTranscriptionResult, protocol.TranscriptionResult{
			Text:     res.Transcript,
			Provider: res.STTProvider,
		})
	}
	c.send(protocol.TypeAIResponse, protocol.AIResponse{
		Text:      res.Reply,
		SessionID: res.SessionID,
	})
	if res.AudioStatus != pipeline.AudioStatusSkipped {
		c.send(protocol.TypeTTSAudio, protocol.TTSAudio{
			Audio:  res.Audio,
			Voice:  res.Voice,
			Status: res.AudioStatus,
			Cached: res.Cached,
		})
	}
}

func (c *wsConn) send(msgType string, payload any) {
	env := protocol.Envelope{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			c.log.Warn("marshal payload", slog.String("type", msgType), slog.String("error", err.Error()))
			return
		}
		env.Payload = data
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(env); err != nil {
		c.log.Warn("websocket write failed", slog.String("error", err.Error()))
	}
}

func (c *wsConn) sendError(code, message string) {
	c.send(protocol.TypeError, protocol.ErrorMessage{Code: code, Message: message})
}

func errorCode(err error) string {
	var (
		inputErr *pipeline.InvalidInputError
		secErr   *sanitize.SecurityError
		sttErr   *pipeline.TranscriptionError
		chatErr  *pipeline.ChatError
	)
	switch {
	case errors.As(err, &inputErr):
		return "invalid_input"
	case errors.As(err, &secErr):
		return "rejected_input"
	case errors.As(err, &sttErr):
		return "transcription_failed"
	case errors.As(err, &chatErr):
		return "chat_failed"
	default:
		return "internal"
	}
}
