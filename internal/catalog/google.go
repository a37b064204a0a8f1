package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/minhph/voicestudio/internal/credentials"
)

const googleVoicesURL = "https://texttospeech.googleapis.com/v1/voices"

// Error classes for a catalog fetch. ErrMissingKey means no outbound call was
// attempted at all.
var (
	ErrMissingKey = errors.New("no API key stored for provider")
	ErrInvalidKey = errors.New("provider rejected the API key")
)

// TransportError is any fetch failure that is neither a missing nor an
// invalid key: network errors, malformed bodies, provider 5xx.
type TransportError struct {
	Message string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("voice catalog fetch failed: %s", e.Message)
}

// GoogleFetcher lists available voices from the Google Cloud TTS API.
// The key is resolved through the credential store on every fetch.
type GoogleFetcher struct {
	creds      credentials.Store
	baseURL    string
	httpClient *http.Client
}

// NewGoogleFetcher creates a fetcher resolving keys from creds. client may be
// nil, in which case http.DefaultClient is used.
func NewGoogleFetcher(creds credentials.Store, client *http.Client) *GoogleFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &GoogleFetcher{
		creds:      creds,
		baseURL:    googleVoicesURL,
		httpClient: client,
	}
}

// googleError mirrors the error envelope Google returns on failures.
type googleError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Fetch retrieves the full voice catalog. A single attempt, no retries; a
// failed fetch is surfaced immediately and re-triggered only by an explicit
// refresh.
func (f *GoogleFetcher) Fetch(ctx context.Context) ([]Voice, error) {
	key, ok, err := f.creds.Get(ctx, credentials.ProviderGoogle)
	if err != nil {
		return nil, &TransportError{Message: fmt.Sprintf("credential lookup: %v", err)}
	}
	if !ok || strings.TrimSpace(key) == "" {
		return nil, ErrMissingKey
	}

	reqURL := fmt.Sprintf("%s?key=%s", f.baseURL, url.QueryEscape(key))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &TransportError{Message: err.Error()}
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &TransportError{Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyFailure(resp.Status, body)
	}

	var payload struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &TransportError{Message: fmt.Sprintf("malformed voice list: %v", err)}
	}
	if payload.Voices == nil {
		payload.Voices = []Voice{}
	}
	return payload.Voices, nil
}

// classifyFailure turns a non-200 provider response into ErrInvalidKey or a
// TransportError. The invalid-key case is recognized by the provider's
// message text, matched case-insensitively.
func classifyFailure(status string, body []byte) error {
	var ge googleError
	msg := ""
	if err := json.Unmarshal(body, &ge); err == nil {
		msg = ge.Error.Message
	}
	if msg == "" {
		msg = fmt.Sprintf("Google API error: %s", status)
	}
	if strings.Contains(strings.ToLower(msg), "api key not valid") {
		return ErrInvalidKey
	}
	return &TransportError{Message: msg}
}
