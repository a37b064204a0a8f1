package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/minhph/voicestudio/internal/credentials"
	"github.com/minhph/voicestudio/internal/eventlog"
	"github.com/minhph/voicestudio/internal/notifications"
)

// roundTripperFunc lets tests stub provider responses without a server.
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func stubResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

// newDeviceRouter builds a router in device mode with no database behind it.
// Only the credential and catalog endpoints are exercisable this way.
func newDeviceRouter(t *testing.T, provider http.RoundTripper) (*Router, http.Handler) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	cfg := RouterConfig{
		PublicBaseURL:      "http://localhost:8080",
		JWTSecret:          "test-secret",
		JWTExpiry:          time.Hour,
		DeviceMode:         true,
		ProviderHTTPClient: &http.Client{Transport: provider},
	}
	r := &Router{
		cfg:         cfg,
		logger:      logger,
		eventLog:    eventlog.New(nil),
		discord:     notifications.NewDiscord("", logger),
		deviceCreds: credentials.NewDeviceStore(credentials.NewMemKV()),
		catalogs:    newCatalogRegistry(cfg.ProviderHTTPClient),
		jobEvents:   NewJobEventHub(),
		mux:         http.NewServeMux(),
	}
	r.routes()
	return r, r.mux
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var parsed map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &parsed)
	}
	return rec, parsed
}

func TestHealthz(t *testing.T) {
	_, h := newDeviceRouter(t, nil)
	rec, _ := doJSON(t, h, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
}

func TestSetCredentialUnknownProvider(t *testing.T) {
	_, h := newDeviceRouter(t, nil)
	rec, _ := doJSON(t, h, "PUT", "/api/credentials/openai", `{"key": "x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSetCredentialEmptyKey(t *testing.T) {
	_, h := newDeviceRouter(t, nil)
	rec, _ := doJSON(t, h, "PUT", "/api/credentials/google", `{"key": "   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSetAndListCredentials(t *testing.T) {
	_, h := newDeviceRouter(t, nil)

	rec, body := doJSON(t, h, "PUT", "/api/credentials/google", `{"key": "AIzaSy-test-key-WXYZ"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set status = %d: %s", rec.Code, rec.Body)
	}
	if got := body["masked_key"]; got != "****-****-****-WXYZ" {
		t.Errorf("masked_key = %v", got)
	}

	rec, body = doJSON(t, h, "GET", "/api/credentials", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	entries, _ := body["credentials"].([]any)
	if len(entries) != 2 {
		t.Fatalf("got %d credential entries, want 2", len(entries))
	}
	var googleEntry, elEntry map[string]any
	for _, e := range entries {
		m := e.(map[string]any)
		switch m["provider"] {
		case "google":
			googleEntry = m
		case "elevenlabs":
			elEntry = m
		}
	}
	if googleEntry == nil || googleEntry["configured"] != true {
		t.Errorf("google entry = %v, want configured", googleEntry)
	}
	if raw, ok := googleEntry["masked_key"].(string); !ok || strings.Contains(raw, "test-key") {
		t.Errorf("google masked_key leaks the raw key: %v", googleEntry["masked_key"])
	}
	if elEntry == nil || elEntry["configured"] != false {
		t.Errorf("elevenlabs entry = %v, want unconfigured", elEntry)
	}
}

func TestListVoicesWithoutKey(t *testing.T) {
	called := false
	rt := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		called = true
		return stubResponse(http.StatusOK, `{"voices": []}`), nil
	})
	_, h := newDeviceRouter(t, rt)

	rec, body := doJSON(t, h, "GET", "/api/voices", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body)
	}
	if body["code"] != "missing_key" {
		t.Errorf("code = %v, want missing_key", body["code"])
	}
	if called {
		t.Error("provider was called despite the missing key")
	}
}

func TestListVoicesInvalidKey(t *testing.T) {
	rt := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return stubResponse(http.StatusBadRequest,
			`{"error": {"message": "API key not valid. Please pass a valid API key."}}`), nil
	})
	_, h := newDeviceRouter(t, rt)

	doJSON(t, h, "PUT", "/api/credentials/google", `{"key": "bad"}`)
	rec, body := doJSON(t, h, "GET", "/api/voices", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body["code"] != "invalid_key" {
		t.Errorf("code = %v, want invalid_key", body["code"])
	}
}

func TestListVoicesUpstreamFailure(t *testing.T) {
	rt := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return stubResponse(http.StatusServiceUnavailable, `{"error": {"message": "try later"}}`), nil
	})
	_, h := newDeviceRouter(t, rt)

	doJSON(t, h, "PUT", "/api/credentials/google", `{"key": "ok"}`)
	rec, body := doJSON(t, h, "GET", "/api/voices", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if body["code"] != "upstream_error" {
		t.Errorf("code = %v, want upstream_error", body["code"])
	}
}

func TestListVoicesFiltersAndCaches(t *testing.T) {
	calls := 0
	rt := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return stubResponse(http.StatusOK, `{"voices": [
			{"name": "en-A", "languageCodes": ["en-US"], "ssmlGender": "MALE", "naturalSampleRateHertz": 24000},
			{"name": "en-B", "languageCodes": ["en-US", "en-GB"], "ssmlGender": "FEMALE", "naturalSampleRateHertz": 24000},
			{"name": "de-C", "languageCodes": ["de-DE"], "ssmlGender": "FEMALE", "naturalSampleRateHertz": 24000}
		]}`), nil
	})
	_, h := newDeviceRouter(t, rt)
	doJSON(t, h, "PUT", "/api/credentials/google", `{"key": "ok"}`)

	rec, body := doJSON(t, h, "GET", "/api/voices?language=en-US&gender=FEMALE", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	voices, _ := body["voices"].([]any)
	if len(voices) != 1 {
		t.Fatalf("got %d voices, want 1", len(voices))
	}
	if name := voices[0].(map[string]any)["name"]; name != "en-B" {
		t.Errorf("voice = %v, want en-B", name)
	}

	// A second request reuses the loaded catalog.
	doJSON(t, h, "GET", "/api/voices", "")
	if calls != 1 {
		t.Errorf("provider called %d times, want 1", calls)
	}

	// refresh=true forces a refetch.
	doJSON(t, h, "GET", "/api/voices?refresh=true", "")
	if calls != 2 {
		t.Errorf("provider called %d times after refresh, want 2", calls)
	}
}

func TestListVoicesInvalidGender(t *testing.T) {
	_, h := newDeviceRouter(t, nil)
	rec, _ := doJSON(t, h, "GET", "/api/voices?gender=ROBOT", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListLanguages(t *testing.T) {
	rt := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return stubResponse(http.StatusOK, `{"voices": [
			{"name": "a", "languageCodes": ["vi-VN", "en-US"], "ssmlGender": "MALE", "naturalSampleRateHertz": 24000},
			{"name": "b", "languageCodes": ["en-US"], "ssmlGender": "FEMALE", "naturalSampleRateHertz": 24000}
		]}`), nil
	})
	_, h := newDeviceRouter(t, rt)
	doJSON(t, h, "PUT", "/api/credentials/google", `{"key": "ok"}`)

	rec, body := doJSON(t, h, "GET", "/api/voices/languages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	langs, _ := body["languages"].([]any)
	if len(langs) != 2 || langs[0] != "en-US" || langs[1] != "vi-VN" {
		t.Errorf("languages = %v, want sorted [en-US vi-VN]", langs)
	}
}

func TestUpdatingKeyInvalidatesCatalog(t *testing.T) {
	calls := 0
	rt := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return stubResponse(http.StatusOK, `{"voices": []}`), nil
	})
	_, h := newDeviceRouter(t, rt)

	doJSON(t, h, "PUT", "/api/credentials/google", `{"key": "first"}`)
	doJSON(t, h, "GET", "/api/voices", "")
	doJSON(t, h, "PUT", "/api/credentials/google", `{"key": "second"}`)
	doJSON(t, h, "GET", "/api/voices", "")

	if calls != 2 {
		t.Errorf("provider called %d times, want a refetch after the key change", calls)
	}
}

func TestSessionRequiredOutsideDeviceMode(t *testing.T) {
	r, _ := newDeviceRouter(t, nil)
	r.cfg.DeviceMode = false

	rec := httptest.NewRecorder()
	r.withSession(func(w http.ResponseWriter, req *http.Request) {
		t.Error("handler reached without a session")
	})(rec, httptest.NewRequest("GET", "/api/voices", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthRequiredEndpoints(t *testing.T) {
	_, h := newDeviceRouter(t, nil)
	for _, ep := range []struct{ method, path string }{
		{"GET", "/api/me"},
		{"PATCH", "/api/me"},
		{"POST", "/api/clones"},
		{"GET", "/api/jobs"},
		{"POST", "/api/billing/checkout"},
	} {
		rec, _ := doJSON(t, h, ep.method, ep.path, "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want 401", ep.method, ep.path, rec.Code)
		}
	}
}

func newJobFormRequest(t *testing.T, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	_ = mw.Close()
	req := httptest.NewRequest("POST", "/api/jobs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestJobFormChecksSourceBeforeVoice(t *testing.T) {
	r, _ := newDeviceRouter(t, nil)

	// A submission that is wrong on both counts reports the source problem.
	req := newJobFormRequest(t, map[string]string{
		"source_kind": "text",
		"text":        "   ",
	})
	_, msg, err := r.parseJobForm(req)
	if err != nil {
		t.Fatalf("parseJobForm error: %v", err)
	}
	if msg != "source contains no text" {
		t.Errorf("msg = %q, want the source error before any voice error", msg)
	}

	// Once the source is usable, the voice rules apply.
	req = newJobFormRequest(t, map[string]string{"text": "hello world"})
	_, msg, err = r.parseJobForm(req)
	if err != nil {
		t.Fatalf("parseJobForm error: %v", err)
	}
	if msg != "voice_kind is required" {
		t.Errorf("msg = %q, want voice_kind is required", msg)
	}

	req = newJobFormRequest(t, map[string]string{"text": "hello", "voice_kind": "robot"})
	if _, msg, _ = r.parseJobForm(req); !strings.Contains(msg, "voice_kind") {
		t.Errorf("msg = %q, want unknown voice_kind", msg)
	}
}

func TestClampSegmentSize(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, defaultSegmentSize},
		{-5, defaultSegmentSize},
		{50, minSegmentSize},
		{100, 100},
		{200, 200},
		{300, 300},
		{1000, maxSegmentSize},
	}
	for _, tc := range cases {
		if got := clampSegmentSize(tc.in); got != tc.want {
			t.Errorf("clampSegmentSize(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
