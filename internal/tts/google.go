package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/minhph/voicestudio/internal/credentials"
)

const googleSynthesizeURL = "https://texttospeech.googleapis.com/v1/text:synthesize"

// GoogleClient implements the Client interface using the Google Cloud TTS API.
// The API key is resolved from the credential store on every call so a key
// saved mid-session takes effect without a restart.
type GoogleClient struct {
	creds      credentials.Store
	baseURL    string
	httpClient *http.Client
}

// NewGoogleClient creates a new Google TTS client. client may be nil, in
// which case http.DefaultClient is used.
func NewGoogleClient(creds credentials.Store, client *http.Client) *GoogleClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &GoogleClient{
		creds:      creds,
		baseURL:    googleSynthesizeURL,
		httpClient: client,
	}
}

// synthesizeRequest represents a Google text:synthesize request.
type synthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name,omitempty"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string `json:"audioEncoding"`
	} `json:"audioConfig"`
}

// Synthesize converts one segment to MP3 audio.
func (c *GoogleClient) Synthesize(ctx context.Context, req SynthesizeRequest) ([]byte, error) {
	key, ok, err := c.creds.Get(ctx, credentials.ProviderGoogle)
	if err != nil {
		return nil, fmt.Errorf("credential lookup: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no Google API key stored")
	}

	var body synthesizeRequest
	body.Input.Text = req.Text
	body.Voice.LanguageCode = req.LanguageCode
	body.Voice.Name = req.VoiceName
	body.AudioConfig.AudioEncoding = "MP3"

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s?key=%s", c.baseURL, key)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("Google TTS API error: %s - %s", resp.Status, string(respBody))
	}

	var out struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio content: %w", err)
	}
	return audio, nil
}
