package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/minhph/voicestudio/internal/credentials"
)

func deviceStoreWithKey(t *testing.T, key string) credentials.Store {
	t.Helper()
	kv := credentials.NewMemKV()
	s := credentials.NewDeviceStore(kv)
	if key != "" {
		if err := s.Set(context.Background(), credentials.ProviderGoogle, key); err != nil {
			t.Fatalf("seed key: %v", err)
		}
	}
	return s
}

func TestFetchMissingKeyMakesNoRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	f := NewGoogleFetcher(deviceStoreWithKey(t, ""), srv.Client())
	f.baseURL = srv.URL

	_, err := f.Fetch(context.Background())
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("Fetch without key: err = %v, want ErrMissingKey", err)
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("fetcher made %d outbound requests without a key, want 0", n)
	}
}

func TestFetchInvalidKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "API key not valid. Please pass a valid API key."}}`))
	}))
	defer srv.Close()

	f := NewGoogleFetcher(deviceStoreWithKey(t, "bad-key"), srv.Client())
	f.baseURL = srv.URL

	_, err := f.Fetch(context.Background())
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Fetch with rejected key: err = %v, want ErrInvalidKey", err)
	}
}

func TestFetchServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"message": "backend unavailable"}}`))
	}))
	defer srv.Close()

	f := NewGoogleFetcher(deviceStoreWithKey(t, "key"), srv.Client())
	f.baseURL = srv.URL

	_, err := f.Fetch(context.Background())
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Fetch on 500: err = %v, want TransportError", err)
	}
	if te.Message != "backend unavailable" {
		t.Errorf("TransportError message = %q", te.Message)
	}
}

func TestFetchParsesCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("key"); got != "good-key" {
			t.Errorf("request key = %q, want good-key", got)
		}
		w.Write([]byte(`{"voices": [
			{"name": "en-US-Wavenet-A", "languageCodes": ["en-US"], "ssmlGender": "MALE", "naturalSampleRateHertz": 24000},
			{"name": "de-DE-Wavenet-B", "languageCodes": ["de-DE"], "ssmlGender": "FEMALE", "naturalSampleRateHertz": 24000}
		]}`))
	}))
	defer srv.Close()

	f := NewGoogleFetcher(deviceStoreWithKey(t, "good-key"), srv.Client())
	f.baseURL = srv.URL

	voices, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].Name != "en-US-Wavenet-A" || voices[0].SsmlGender != GenderMale {
		t.Errorf("first voice = %+v", voices[0])
	}
	if voices[0].NaturalSampleRateHertz != 24000 {
		t.Errorf("sample rate = %d, want 24000", voices[0].NaturalSampleRateHertz)
	}
}

func TestFetchEmptyCatalogIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := NewGoogleFetcher(deviceStoreWithKey(t, "key"), srv.Client())
	f.baseURL = srv.URL

	voices, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if voices == nil || len(voices) != 0 {
		t.Errorf("voices = %v, want empty non-nil", voices)
	}
}
