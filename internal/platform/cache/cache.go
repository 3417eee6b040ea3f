package cache

import (
	"context"
	"strings"
	"time"
)

// Cache stores opaque snapshots with a time to live. A miss is reported as ok=false with a nil
// error so callers can tell it apart from a backend failure.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// Key joins parts into a namespaced cache key.
func Key(namespace string, parts ...string) string {
	segments := make([]string, 0, len(parts)+1)
	if ns := strings.TrimSpace(namespace); ns != "" {
		segments = append(segments, ns)
	}
	for _, part := range parts {
		segments = append(segments, strings.TrimSpace(part))
	}
	return strings.Join(segments, ":")
}
