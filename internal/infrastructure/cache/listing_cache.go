package cache

import (
	"context"
	"time"

	"github.com/hszk-dev/photoflow/internal/domain/model"
)

// Photo is one listed object together with its tag set.
type Photo struct {
	Key          string     `json:"key"`
	Size         int64      `json:"size"`
	LastModified time.Time  `json:"last_modified"`
	Tags         model.Tags `json:"tags,omitempty"`
}

// Album is one bucket with its listed photos.
type Album struct {
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	Tags      model.Tags `json:"tags,omitempty"`
	Photos    []Photo    `json:"photos"`
}

// Listing is the full bucket+object view served to browsers. It is rebuilt
// only on explicit refresh, so readers may observe state that is stale
// relative to the latest copy or remove.
type Listing struct {
	Albums      []Album   `json:"albums"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// ListingCache defines the interface for caching the album listing.
// Implementations should handle serialization transparently.
type ListingCache interface {
	// Get retrieves the cached listing.
	// Returns nil, nil on cache miss.
	Get(ctx context.Context) (*Listing, error)

	// Set stores the listing with the specified TTL. A zero TTL stores it
	// without expiry.
	Set(ctx context.Context, listing *Listing, ttl time.Duration) error

	// Invalidate drops the cached listing.
	Invalidate(ctx context.Context) error
}
