package tts

import "context"

// Request contains parameters to synthesize speech.
type Request struct {
	Text  string
	Voice string
	Speed float64
}

// Synthesizer is the contract for producing audio from text.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req Request) ([]byte, error)
	Voices() []string
}

// Neural voices exposed by the default provider set. Requests for unknown
// voices fall back to DefaultVoice rather than failing.
var KnownVoices = []string{
	"en-US-AriaNeural",
	"en-US-GuyNeural",
	"en-US-JennyNeural",
	"en-US-DavisNeural",
	"en-US-AmberNeural",
	"en-US-AnaNeural",
	"en-US-BrandonNeural",
	"en-US-ChristopherNeural",
	"en-US-CoraNeural",
	"en-US-ElizabethNeural",
	"en-US-EricNeural",
	"en-US-MichelleNeural",
	"en-US-RogerNeural",
	"en-US-SteffanNeural",
}

const DefaultVoice = "en-US-GuyNeural"

// MapVoice resolves aliases (style names, other providers' voice ids) onto a
// known neural voice, defaulting when the name is unrecognized.
func MapVoice(voice string) string {
	if voice == "" {
		return DefaultVoice
	}
	if mapped, ok := voiceAliases[voice]; ok {
		return mapped
	}
	for _, v := range KnownVoices {
		if v == voice {
			return voice
		}
	}
	return DefaultVoice
}

var voiceAliases = map[string]string{
	"male":           "en-US-GuyNeural",
	"female":         "en-US-JennyNeural",
	"professional":   "en-US-GuyNeural",
	"friendly":       "en-US-AriaNeural",
	"conversational": "en-US-JennyNeural",
}
