package gateway

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxa-labs/voxa-core/internal/protocol"
)

func dialWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws/voice-chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	env := protocol.Envelope{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		env.Payload = data
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
}

func TestWebSocketHandshakeAndPing(t *testing.T) {
	srv := newTestServer(t)
	conn := dialWS(t, srv.URL)

	env := readEnvelope(t, conn)
	if env.Type != protocol.TypeConnectionEstablished {
		t.Fatalf("first message type = %q", env.Type)
	}
	var hello protocol.ConnectionEstablished
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		t.Fatalf("unmarshal hello: %v", err)
	}
	if hello.SessionID == "" {
		t.Fatal("expected a session id on connect")
	}

	sendEnvelope(t, conn, protocol.TypePing, nil)
	if env := readEnvelope(t, conn); env.Type != protocol.TypePong {
		t.Fatalf("expected pong, got %q", env.Type)
	}
}

func TestWebSocketTextTurn(t *testing.T) {
	srv := newTestServer(t)
	conn := dialWS(t, srv.URL)
	readEnvelope(t, conn) // connection_established

	sendEnvelope(t, conn, protocol.TypeTextMessage, protocol.TextMessage{
		Text:      "hello",
		WantAudio: true,
	})

	env := readEnvelope(t, conn)
	if env.Type != protocol.TypeAIResponse {
		t.Fatalf("expected ai_response, got %q", env.Type)
	}
	var reply protocol.AIResponse
	if err := json.Unmarshal(env.Payload, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Text == "" || reply.SessionID == "" {
		t.Fatalf("incomplete reply: %+v", reply)
	}

	env = readEnvelope(t, conn)
	if env.Type != protocol.TypeTTSAudio {
		t.Fatalf("expected tts_audio, got %q", env.Type)
	}
	var audio protocol.TTSAudio
	if err := json.Unmarshal(env.Payload, &audio); err != nil {
		t.Fatalf("unmarshal audio: %v", err)
	}
	if audio.Status != "ok" || len(audio.Audio) == 0 {
		t.Fatalf("expected synthesized audio, got %+v", audio)
	}
}

func TestWebSocketAudioTurn(t *testing.T) {
	srv := newTestServer(t)
	conn := dialWS(t, srv.URL)
	readEnvelope(t, conn)

	sendEnvelope(t, conn, protocol.TypeAudioData, protocol.AudioData{
		Audio:  []byte("fake-pcm"),
		Format: "wav",
	})

	env := readEnvelope(t, conn)
	if env.Type != protocol.TypeTranscriptionResult {
		t.Fatalf("expected transcription_result, got %q", env.Type)
	}
	env = readEnvelope(t, conn)
	if env.Type != protocol.TypeAIResponse {
		t.Fatalf("expected ai_response, got %q", env.Type)
	}
	env = readEnvelope(t, conn)
	if env.Type != protocol.TypeTTSAudio {
		t.Fatalf("expected tts_audio, got %q", env.Type)
	}
}

func TestWebSocketRejectsUnknownType(t *testing.T) {
	srv := newTestServer(t)
	conn := dialWS(t, srv.URL)
	readEnvelope(t, conn)

	sendEnvelope(t, conn, "bogus", nil)
	env := readEnvelope(t, conn)
	if env.Type != protocol.TypeError {
		t.Fatalf("expected error, got %q", env.Type)
	}
	var msg protocol.ErrorMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if msg.Code != "unknown_type" {
		t.Fatalf("unexpected code %q", msg.Code)
	}
}

func TestWebSocketRecordingLifecycle(t *testing.T) {
	srv := newTestServer(t)
	conn := dialWS(t, srv.URL)
	readEnvelope(t, conn)

	sendEnvelope(t, conn, protocol.TypeStartRecording, nil)
	if env := readEnvelope(t, conn); env.Type != protocol.TypeRecordingStarted {
		t.Fatalf("expected recording_started, got %q", env.Type)
	}
	sendEnvelope(t, conn, protocol.TypeStopRecording, nil)
	if env := readEnvelope(t, conn); env.Type != protocol.TypeRecordingStopped {
		t.Fatalf("expected recording_stopped, got %q", env.Type)
	}
}
