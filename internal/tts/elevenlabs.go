package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/minhph/voicestudio/internal/credentials"
)

const elevenLabsAPIURL = "https://api.elevenlabs.io/v1/text-to-speech"

// ElevenLabsClient implements the Client interface using ElevenLabs' API.
// Used for cloned-voice synthesis; VoiceName carries the ElevenLabs voice id.
type ElevenLabsClient struct {
	creds      credentials.Store
	modelID    string
	baseURL    string
	httpClient *http.Client
}

// NewElevenLabsClient creates a new ElevenLabs client. client may be nil, in
// which case http.DefaultClient is used.
func NewElevenLabsClient(creds credentials.Store, client *http.Client) *ElevenLabsClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &ElevenLabsClient{
		creds:      creds,
		modelID:    "eleven_multilingual_v2",
		baseURL:    elevenLabsAPIURL,
		httpClient: client,
	}
}

// ttsRequest represents an ElevenLabs TTS request.
type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize converts one segment to MP3 audio using the cloned voice.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, req SynthesizeRequest) ([]byte, error) {
	key, ok, err := c.creds.Get(ctx, credentials.ProviderElevenLabs)
	if err != nil {
		return nil, fmt.Errorf("credential lookup: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no ElevenLabs API key stored")
	}

	url := fmt.Sprintf("%s/%s?output_format=mp3_44100_128", c.baseURL, req.VoiceName)

	body, err := json.Marshal(ttsRequest{
		Text:    req.Text,
		ModelID: c.modelID,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", key)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ElevenLabs API error: %s - %s", resp.Status, string(respBody))
	}

	return io.ReadAll(resp.Body)
}
