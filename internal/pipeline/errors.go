package pipeline

import "fmt"

// InvalidInputError reports a malformed request: no input, oversized audio,
// an unsupported format, or an empty transcript. Maps to a 400.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// TranscriptionError reports that every speech recognition provider failed
// for this turn. Maps to a 502.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// ChatError reports that the language model call failed. The conversation
// history is left untouched so the turn can be retried. Maps to a 502.
type ChatError struct {
	Err error
}

func (e *ChatError) Error() string {
	return fmt.Sprintf("chat completion failed: %v", e.Err)
}

func (e *ChatError) Unwrap() error { return e.Err }

// SynthesisError reports that every synthesizer failed for a standalone
// synthesis request. Within a conversation turn the same condition degrades
// to a text-only result instead. Maps to a 502.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("speech synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
