package tts

import "context"

// Client defines the interface for text-to-speech providers.
type Client interface {
	// Synthesize converts one text segment to speech and returns audio data.
	// The returned audio is in the format specified by the provider config.
	Synthesize(ctx context.Context, req SynthesizeRequest) ([]byte, error)
}

// SynthesizeRequest identifies the text and voice for one segment.
type SynthesizeRequest struct {
	Text         string
	VoiceName    string // provider voice name, e.g. "vi-VN-Wavenet-B"
	LanguageCode string // BCP-47 tag, e.g. "vi-VN"
}
