// Package blob stores uploaded bytes under system-chosen references.
//
// A reference is independent of the user-visible file name: it is a random
// UUID plus the sanitised extension of the original name, so it can never
// collide with another upload or escape the storage root.
package blob

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Open when no blob exists for a reference.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidRef is returned for references that could address a path outside
// the storage root.
var ErrInvalidRef = errors.New("invalid blob reference")

// Info describes a stored blob.
type Info struct {
	Size    int64
	ModTime time.Time
}

// Store is the blob backend used by ingestion, delivery and deletion.
type Store interface {
	// Put streams r into a new blob named ref and returns the bytes written.
	Put(ctx context.Context, ref string, r io.Reader) (int64, error)
	// Open returns a seekable reader over the blob. ErrNotFound if missing.
	Open(ctx context.Context, ref string) (io.ReadSeekCloser, Info, error)
	// Remove deletes the blob. A missing blob is not an error.
	Remove(ctx context.Context, ref string) error
}

const maxExtLen = 16

// NewRef returns a fresh reference for a file originally called name.
func NewRef(name string) string {
	return uuid.NewString() + safeExt(name)
}

func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > maxExtLen {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}

// ValidRef reports whether ref is a single path element safe to use as a
// blob name.
func ValidRef(ref string) bool {
	if ref == "" || ref == "." || ref == ".." {
		return false
	}
	return !strings.ContainsAny(ref, `/\`) && !strings.Contains(ref, "..")
}
