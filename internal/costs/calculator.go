// Package costs provides cost calculation for TTS provider usage.
package costs

import (
	"os"
	"strconv"
)

// Pricing constants (in cents per 1K characters for precision).
// These are based on 2026 list prices and can be overridden via environment variables.
var (
	// GoogleCentsPerThousandChars is the cost per 1K characters for Google
	// Cloud TTS WaveNet voices. Default: $16/1M chars = 1.6 cents/1K chars.
	GoogleCentsPerThousandChars = getEnvFloat("COST_GOOGLE_CENTS_PER_1K_CHARS", 1.6)

	// ElevenLabsCentsPerThousandChars is the cost per 1K characters for
	// ElevenLabs cloned-voice synthesis. Default: $0.18/1K chars = 18 cents/1K.
	ElevenLabsCentsPerThousandChars = getEnvFloat("COST_ELEVENLABS_CENTS_PER_1K_CHARS", 18.0)
)

// JobCents returns the synthesis cost in cents for a job of characterCount
// characters on the given voice kind ("google" or "clone").
func JobCents(voiceKind string, characterCount int) float64 {
	perThousand := GoogleCentsPerThousandChars
	if voiceKind == "clone" {
		perThousand = ElevenLabsCentsPerThousandChars
	}
	return (float64(characterCount) / 1000.0) * perThousand
}

// getEnvFloat returns an environment variable as float64, or the default if not set.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
