package tts

import (
	"context"
	"time"
)

type mockSynth struct{}

// NewMockSynth returns the offline provider, registered through config like
// any real backend.
func NewMockSynth() Synthesizer {
	return &mockSynth{}
}

func (m *mockSynth) Name() string { return "mock" }

func (m *mockSynth) Voices() []string {
	return append([]string(nil), KnownVoices...)
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	// A minimal silent WAV so downstream base64 handling stays realistic.
	return silentWAV(), nil
}

func silentWAV() []byte {
	const samples = 160 // 10ms at 16kHz
	data := make([]byte, 44+samples*2)
	copy(data[0:4], "RIFF")
	putUint32(data[4:], uint32(36+samples*2))
	copy(data[8:12], "WAVE")
	copy(data[12:16], "fmt ")
	putUint32(data[16:], 16)
	putUint16(data[20:], 1)  // PCM
	putUint16(data[22:], 1)  // mono
	putUint32(data[24:], 16000)
	putUint32(data[28:], 16000*2)
	putUint16(data[32:], 2)
	putUint16(data[34:], 16)
	copy(data[36:40], "data")
	putUint32(data[40:], uint32(samples*2))
	return data
}

func putUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
