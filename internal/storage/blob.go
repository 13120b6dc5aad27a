// Package storage holds durable audio blobs.
package storage

import (
	"context"
	"io"
)

// BlobStore is durable object storage addressed by slash-separated keys.
type BlobStore interface {
	// Put stores r under key, replacing any previous object, and returns
	// the object's public URL.
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	PublicURL(key string) string
	Open(key string) (io.ReadCloser, error)
	Delete(key string) error
	// DeletePrefix removes every object whose key starts with prefix + "/".
	DeletePrefix(prefix string) error
}
