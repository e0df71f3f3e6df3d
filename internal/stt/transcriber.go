package stt

import (
	"context"
	"strings"
)

// Request carries one utterance to transcribe.
type Request struct {
	Audio    []byte
	Format   string // file extension without dot: wav, webm, mp3, ...
	Language string // BCP-47 or bare ISO-639-1; normalized per provider
}

// Result captures transcriber output.
type Result struct {
	Text  string
	Model string
}

// Transcriber abstracts STT backends.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// BaseLanguage reduces "en-US" style tags to the bare language code that
// Whisper-family backends expect.
func BaseLanguage(language string) string {
	if i := strings.IndexByte(language, '-'); i > 0 {
		return strings.ToLower(language[:i])
	}
	return strings.ToLower(language)
}
