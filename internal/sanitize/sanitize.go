// Package sanitize neutralizes markup and validates user-supplied parameters
// before they reach the chat model, the synthesizer, or a client. Input that
// fails validation is a caller defect and is rejected, never silently
// repaired.
package sanitize

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// SecurityError reports rejected content. The gateway maps it to a 4xx.
type SecurityError struct {
	Reason string
}

func (e *SecurityError) Error() string {
	return "security validation failed: " + e.Reason
}

var (
	stripPolicy = bluemonday.StrictPolicy()

	languagePattern = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)
	filenamePattern = regexp.MustCompile(`^[a-zA-Z0-9\-_\.\s]+$`)
)

var allowedLanguages = map[string]bool{
	"en": true, "es": true, "fr": true, "de": true, "it": true,
	"pt": true, "ru": true, "ja": true, "ko": true, "zh": true,
	"ar": true, "hi": true, "tr": true, "pl": true, "nl": true,
	"sv": true, "da": true, "no": true, "fi": true,
}

var allowedAudioFormats = map[string]bool{
	"wav": true, "mp3": true, "m4a": true, "flac": true, "ogg": true,
	"webm": true, "mp4": true, "mpeg": true, "mpga": true,
}

// Clean strips markup from text, escapes what remains for safe display, and
// enforces the length cap. The returned string is HTML-escaped; use
// SpeakableText before handing it to a synthesizer.
func Clean(text string, maxLen int) (string, error) {
	if maxLen > 0 && len(text) > maxLen {
		return "", &SecurityError{Reason: fmt.Sprintf("text too long: %d characters (max %d)", len(text), maxLen)}
	}

	text = stripControlBytes(text)
	text = stripPolicy.Sanitize(text)
	// bluemonday entity-escapes what it keeps; decode once so the escape
	// below doesn't double-encode.
	text = html.UnescapeString(text)
	text = html.EscapeString(text)
	return strings.TrimSpace(text), nil
}

// SpeakableText decodes HTML entities so TTS speaks literal characters
// rather than "&amp;quot;".
func SpeakableText(s string) string {
	return html.UnescapeString(s)
}

func stripControlBytes(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// Language validates a bare or region-qualified language code.
func Language(language string) (string, error) {
	language = strings.TrimSpace(language)
	if language == "" {
		return "", &SecurityError{Reason: "language must not be empty"}
	}
	base := strings.ToLower(strings.SplitN(language, "-", 2)[0])
	if !allowedLanguages[base] {
		return "", &SecurityError{Reason: fmt.Sprintf("unsupported language %q", language)}
	}
	if !languagePattern.MatchString(language) {
		lower := strings.ToLower(language)
		if !languagePattern.MatchString(lower) {
			return "", &SecurityError{Reason: fmt.Sprintf("invalid language code %q", language)}
		}
		language = lower
	}
	return language, nil
}

// Speed validates the synthesis speed multiplier.
func Speed(speed, min, max float64) (float64, error) {
	if speed == 0 {
		return 1.0, nil
	}
	if speed < min || speed > max {
		return 0, &SecurityError{Reason: fmt.Sprintf("speed must be between %.1f and %.1f, got %.2f", min, max, speed)}
	}
	return speed, nil
}

// Filename rejects traversal attempts and oversized or malformed names.
func Filename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &SecurityError{Reason: "filename is required"}
	}
	if len(name) > 255 {
		return "", &SecurityError{Reason: "filename too long"}
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", &SecurityError{Reason: "filename contains path traversal"}
	}
	if !filenamePattern.MatchString(name) {
		return "", &SecurityError{Reason: fmt.Sprintf("invalid filename %q", name)}
	}
	return name, nil
}

// AudioFormat validates the extension of an uploaded audio file.
func AudioFormat(filename string) (string, error) {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 || idx == len(filename)-1 {
		return "", &SecurityError{Reason: "audio file has no extension"}
	}
	ext := strings.ToLower(filename[idx+1:])
	if !allowedAudioFormats[ext] {
		return "", &SecurityError{Reason: fmt.Sprintf("unsupported audio format %q", ext)}
	}
	return ext, nil
}

// HistoryMessage is the client-supplied history shape accepted by the
// stateless chat endpoint.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History validates and sanitizes client-supplied conversation history.
func History(history []HistoryMessage, maxMessages, maxMessageLen int) ([]HistoryMessage, error) {
	if len(history) == 0 {
		return nil, nil
	}
	if maxMessages > 0 && len(history) > maxMessages {
		return nil, &SecurityError{Reason: fmt.Sprintf("too many history messages: %d (max %d)", len(history), maxMessages)}
	}
	out := make([]HistoryMessage, 0, len(history))
	for i, msg := range history {
		switch msg.Role {
		case "user", "assistant", "system":
		default:
			return nil, &SecurityError{Reason: fmt.Sprintf("invalid role %q in history message %d", msg.Role, i)}
		}
		content, err := Clean(msg.Content, maxMessageLen)
		if err != nil {
			return nil, err
		}
		out = append(out, HistoryMessage{Role: msg.Role, Content: content})
	}
	return out, nil
}
