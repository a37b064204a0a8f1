package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/minhph/voicestudio/internal/credentials"
)

func testCreds(t *testing.T, provider, key string) credentials.Store {
	t.Helper()
	s := credentials.NewDeviceStore(credentials.NewMemKV())
	if err := s.Set(context.Background(), provider, key); err != nil {
		t.Fatalf("seed key: %v", err)
	}
	return s
}

func TestGoogleSynthesize(t *testing.T) {
	audio := []byte("mp3-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("key"); got != "g-key" {
			t.Errorf("key = %q", got)
		}
		var body struct {
			Input struct {
				Text string `json:"text"`
			} `json:"input"`
			Voice struct {
				LanguageCode string `json:"languageCode"`
				Name         string `json:"name"`
			} `json:"voice"`
			AudioConfig struct {
				AudioEncoding string `json:"audioEncoding"`
			} `json:"audioConfig"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Input.Text != "hello world" {
			t.Errorf("text = %q", body.Input.Text)
		}
		if body.Voice.Name != "en-US-Wavenet-A" || body.Voice.LanguageCode != "en-US" {
			t.Errorf("voice = %+v", body.Voice)
		}
		if body.AudioConfig.AudioEncoding != "MP3" {
			t.Errorf("encoding = %q", body.AudioConfig.AudioEncoding)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"audioContent": base64.StdEncoding.EncodeToString(audio),
		})
	}))
	defer srv.Close()

	c := NewGoogleClient(testCreds(t, credentials.ProviderGoogle, "g-key"), srv.Client())
	c.baseURL = srv.URL

	got, err := c.Synthesize(context.Background(), SynthesizeRequest{
		Text:         "hello world",
		VoiceName:    "en-US-Wavenet-A",
		LanguageCode: "en-US",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got) != string(audio) {
		t.Errorf("audio = %q, want %q", got, audio)
	}
}

func TestGoogleSynthesizeWithoutKey(t *testing.T) {
	c := NewGoogleClient(credentials.NewDeviceStore(credentials.NewMemKV()), nil)
	if _, err := c.Synthesize(context.Background(), SynthesizeRequest{Text: "x"}); err == nil {
		t.Fatal("Synthesize without a key did not error")
	}
}

func TestElevenLabsSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/voice-abc" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("xi-api-key"); got != "el-key" {
			t.Errorf("xi-api-key = %q", got)
		}
		var body struct {
			Text    string `json:"text"`
			ModelID string `json:"model_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.ModelID != "eleven_multilingual_v2" {
			t.Errorf("model = %q", body.ModelID)
		}
		w.Write([]byte("clone-audio"))
	}))
	defer srv.Close()

	c := NewElevenLabsClient(testCreds(t, credentials.ProviderElevenLabs, "el-key"), srv.Client())
	c.baseURL = srv.URL

	got, err := c.Synthesize(context.Background(), SynthesizeRequest{
		Text:      "xin chào",
		VoiceName: "voice-abc",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got) != "clone-audio" {
		t.Errorf("audio = %q", got)
	}
}

func TestElevenLabsSynthesizeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail": "invalid api key"}`))
	}))
	defer srv.Close()

	c := NewElevenLabsClient(testCreds(t, credentials.ProviderElevenLabs, "stale"), srv.Client())
	c.baseURL = srv.URL

	if _, err := c.Synthesize(context.Background(), SynthesizeRequest{Text: "x", VoiceName: "v"}); err == nil {
		t.Fatal("Synthesize on 401 did not error")
	}
}
