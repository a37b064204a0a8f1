package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// KV is the injectable key-value backing for the anonymous (device) store.
// Production binds a JSON file on the server host; tests use MemKV.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Fixed device-store keys per provider.
var deviceKeys = map[string]string{
	ProviderGoogle:     "googleApiKey",
	ProviderElevenLabs: "elevenLabsApiKey",
}

// DeviceStore keeps credentials in a local per-device KV under fixed
// provider-specific keys. Used when no authenticated identity is present.
type DeviceStore struct {
	kv KV
}

// NewDeviceStore creates a device-scoped credential store over kv.
func NewDeviceStore(kv KV) *DeviceStore {
	return &DeviceStore{kv: kv}
}

func (d *DeviceStore) Get(_ context.Context, provider string) (string, bool, error) {
	k, found := deviceKeys[provider]
	if !found {
		return "", false, fmt.Errorf("unknown provider %q", provider)
	}
	v, ok, err := d.kv.Get(k)
	if err != nil {
		return "", false, err
	}
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

func (d *DeviceStore) Set(_ context.Context, provider, key string) error {
	k, found := deviceKeys[provider]
	if !found {
		return fmt.Errorf("unknown provider %q", provider)
	}
	return d.kv.Set(k, key)
}

// MemKV is an in-memory KV for tests.
type MemKV struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemKV() *MemKV {
	return &MemKV{m: make(map[string]string)}
}

func (s *MemKV) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *MemKV) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

// FileKV persists the device mapping as a JSON object on disk. Concurrent
// writers from separate processes are not coordinated; last write wins.
type FileKV struct {
	mu   sync.Mutex
	path string
}

// NewFileKV creates a file-backed KV at path. The file is created on first Set.
func NewFileKV(path string) *FileKV {
	return &FileKV{path: path}
}

func (s *FileKV) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

func (s *FileKV) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	m[key] = value
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *FileKV) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt device credential file %s: %w", s.path, err)
	}
	return m, nil
}
