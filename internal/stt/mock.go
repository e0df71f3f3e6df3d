package stt

import (
	"context"
	"fmt"
)

type mockTranscriber struct{}

// NewMockTranscriber returns the offline provider. It is registered like any
// other backend and selected through config, never substituted implicitly on
// failure.
func NewMockTranscriber() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) Name() string { return "mock" }

func (m *mockTranscriber) Transcribe(_ context.Context, req Request) (Result, error) {
	return Result{
		Text:  fmt.Sprintf("[mock transcript of %d %s bytes]", len(req.Audio), req.Format),
		Model: "mock",
	}, nil
}
