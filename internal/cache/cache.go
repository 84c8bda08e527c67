// Package cache stores sanitized SVG keyed by diagram source and render
// configuration, so unchanged diagrams skip the external renderer.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Cache is a byte store keyed by strings. Implementations are safe for
// concurrent use.
type Cache interface {
	// Get returns the cached value and whether it was found. A corrupt or
	// unreadable entry is a miss, not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key returns the cache key of a render: the diagram source together with
// the configuration it was rendered with. Map keys are marshaled in sorted
// order, so equal configurations produce equal keys.
func Key(source string, config map[string]any) string {
	return hashKey("svg", source, config)
}

// hashKey generates a key of the form prefix:sha256(json(parts)).
func hashKey(prefix string, parts ...any) string {
	data, err := json.Marshal(parts)
	if err != nil {
		// Unmarshalable config values fall back to their printed form.
		data = []byte(fmt.Sprintf("%#v", parts))
	}
	return prefix + ":" + Hash(data)
}

// Hash computes a SHA-256 hash of data as 64 hex characters.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
