// Package clone talks to the ElevenLabs voice-cloning API.
package clone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/minhph/voicestudio/internal/credentials"
)

const elevenLabsAPIURL = "https://api.elevenlabs.io/v1"

// ErrVoiceNotFound indicates the provider no longer has the voice, e.g. it
// was deleted from the ElevenLabs dashboard directly.
var ErrVoiceNotFound = errors.New("voice not found on provider")

// Upload validation limits. Duration bounds (11-40s) are stated in the UI but
// not checked here; measuring duration would require decoding the audio.
const (
	MaxSampleBytes = 50 << 20 // 50 MiB
)

// AllowedSampleTypes is the MIME whitelist for clone sample uploads.
var AllowedSampleTypes = map[string]bool{
	"audio/mpeg":  true,
	"audio/wav":   true,
	"audio/x-m4a": true,
}

// API is the provider surface the registry handlers depend on; tests swap in
// a fake.
type API interface {
	CreateVoice(ctx context.Context, name, description, fileName string, sample io.Reader) (string, error)
	GetVoice(ctx context.Context, voiceID string) (*VoiceInfo, error)
	DeleteVoice(ctx context.Context, voiceID string) error
}

// ElevenLabsClient implements voice-clone operations against ElevenLabs.
// The API key is resolved from the credential store on every call.
type ElevenLabsClient struct {
	creds      credentials.Store
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
		baseURL:    elevenLabsAPIURL,
		httpClient: client,
	}
}

func (c *ElevenLabsClient) apiKey(ctx context.Context) (string, error) {
	key, ok, err := c.creds.Get(ctx, credentials.ProviderElevenLabs)
	if err != nil {
		return "", fmt.Errorf("credential lookup: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("no ElevenLabs API key stored")
	}
	return key, nil
}

// CreateVoice uploads a sample and registers a new cloned voice. Returns the
// provider-side voice id; training continues asynchronously on the provider.
func (c *ElevenLabsClient) CreateVoice(ctx context.Context, name, description, fileName string, sample io.Reader) (string, error) {
	key, err := c.apiKey(ctx)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("name", name); err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	if description != "" {
		if err := mw.WriteField("description", description); err != nil {
			return "", fmt.Errorf("failed to build form: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("files", fileName)
	if err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := io.Copy(fw, sample); err != nil {
		return "", fmt.Errorf("failed to copy sample: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	url := fmt.Sprintf("%s/voices/add", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("xi-api-key", key)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ElevenLabs API error: %s - %s", resp.Status, string(respBody))
	}

	var out struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if out.VoiceID == "" {
		return "", fmt.Errorf("ElevenLabs returned no voice_id")
	}
	return out.VoiceID, nil
}

// VoiceInfo is the subset of the provider voice record used for status polls.
type VoiceInfo struct {
	VoiceID    string `json:"voice_id"`
	Name       string `json:"name"`
	FineTuning struct {
		State map[string]string `json:"state"`
	} `json:"fine_tuning"`
}

// GetVoice fetches the provider record for a cloned voice.
func (c *ElevenLabsClient) GetVoice(ctx context.Context, voiceID string) (*VoiceInfo, error) {
	key, err := c.apiKey(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/voices/%s", c.baseURL, voiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", key)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrVoiceNotFound
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ElevenLabs API error: %s - %s", resp.Status, string(respBody))
	}

	var info VoiceInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &info, nil
}

// Ready reports whether every fine-tuning model has finished training.
// An empty state map counts as ready; instant clones skip fine tuning.
func (v *VoiceInfo) Ready() bool {
	for _, state := range v.FineTuning.State {
		if state != "fine_tuned" && state != "not_started" {
			return false
		}
	}
	return true
}

// Failed reports whether any fine-tuning model ended in a failed state.
// Failure is terminal on the provider side; the voice will never train.
func (v *VoiceInfo) Failed() bool {
	for _, state := range v.FineTuning.State {
		if state == "failed" {
			return true
		}
	}
	return false
}

// DeleteVoice removes a cloned voice on the provider side.
func (c *ElevenLabsClient) DeleteVoice(ctx context.Context, voiceID string) error {
	key, err := c.apiKey(ctx)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/voices/%s", c.baseURL, voiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", key)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ElevenLabs API error: %s - %s", resp.Status, string(respBody))
	}
	return nil
}
