package links

import (
	"context"
	"errors"
	"fmt"
	"time"

	"file-portal/internal/store"
)

// DefaultTTL is how long a link stays downloadable.
const DefaultTTL = 24 * time.Hour

// Status is the outcome of resolving a token.
type Status int

const (
	StatusNotFound Status = iota
	StatusValid
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	default:
		return "not_found"
	}
}

// Resolution carries the link and file for a Valid or Expired token. File is
// nil unless Status is StatusValid.
type Resolution struct {
	Status Status
	Link   store.LinkRecord
	File   *store.FileRecord
}

// LinkLookup is the part of the metadata store the resolver reads.
type LinkLookup interface {
	GetLinkByToken(ctx context.Context, token string) (store.LinkRecord, *store.FileRecord, error)
}

// Resolver applies the TTL policy lazily on every lookup. It never writes.
type Resolver struct {
	links LinkLookup
	ttl   time.Duration
	now   func() time.Time
}

// NewResolver returns a Resolver. A non-positive ttl means DefaultTTL and a
// nil clock means time.Now.
func NewResolver(links LinkLookup, ttl time.Duration, now func() time.Time) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Resolver{links: links, ttl: ttl, now: now}
}

// TTL returns the configured time to live.
func (r *Resolver) TTL() time.Duration { return r.ttl }

// Expiry is the instant after which link stops being valid.
func (r *Resolver) Expiry(link store.LinkRecord) time.Time {
	return link.CreatedAt.Add(r.ttl).UTC()
}

// Resolve maps token to its file. A link whose age equals the TTL exactly is
// still valid.
func (r *Resolver) Resolve(ctx context.Context, token string) (Resolution, error) {
	if token == "" {
		return Resolution{Status: StatusNotFound}, nil
	}

	link, file, err := r.links.GetLinkByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Resolution{Status: StatusNotFound}, nil
		}
		return Resolution{}, fmt.Errorf("resolve token: %w", err)
	}

	if r.now().Sub(link.CreatedAt) > r.ttl {
		return Resolution{Status: StatusExpired, Link: link}, nil
	}
	if file == nil {
		return Resolution{Status: StatusNotFound, Link: link}, nil
	}
	return Resolution{Status: StatusValid, Link: link, File: file}, nil
}
