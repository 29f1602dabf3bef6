package cache

import (
	"encoding/json"
	"time"
)

// StoredEntry is a resolved value persisted in a second-level Store.
type StoredEntry struct {
	// Data is the JSON encoded value
	Data json.RawMessage `json:"data"`

	// Expires is when the stored value becomes stale
	Expires time.Time `json:"expires"`

	// CachedAt is when the value was stored
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the entry has expired.
func (e *StoredEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *StoredEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
