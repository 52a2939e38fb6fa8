// Package storage provides the blob store that holds dataset bodies.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when no object exists at the path.
var ErrNotFound = errors.New("object not found")

// Backend stores opaque blobs under slash-separated paths.
type Backend interface {
	// Write replaces the object at path atomically.
	Write(ctx context.Context, path string, data []byte) error

	// Read returns the object at path, or an error wrapping ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns the paths of all objects under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object at path. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	Close() error

	// Type returns the backend identifier, e.g. "local".
	Type() string
}
