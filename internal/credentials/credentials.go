// Package credentials resolves provider API keys for either session variant.
package credentials

import (
	"context"
	"fmt"
)

// Provider identifiers. These are the only two values ever stored.
const (
	ProviderGoogle     = "google"
	ProviderElevenLabs = "elevenlabs"
)

// ValidProvider reports whether id is one of the supported providers.
func ValidProvider(id string) bool {
	return id == ProviderGoogle || id == ProviderElevenLabs
}

// Store is the credential store adapter. Absence is a normal ok=false result,
// not an error; err is reserved for backing-store failures. Every Get re-reads
// the backing store - there is no caching layer.
type Store interface {
	Get(ctx context.Context, provider string) (key string, ok bool, err error)
	Set(ctx context.Context, provider, key string) error
}

// Mask returns the display form of a stored key, revealing only the last four
// characters. Empty keys render as "not set".
func Mask(key string) string {
	if key == "" {
		return "not set"
	}
	tail := key
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return fmt.Sprintf("****-****-****-%s", tail)
}
