// Package storage defines the object-store contract the transcription client
// archives into, and the record/file layout built on top of it.
//
// A [Store] is a flat key space of byte blobs in the style of an S3 bucket.
// [Records] groups keys into named records ("folders" whose marker key ends
// in "/") holding uploaded files and archived transcripts.
//
// Implementations live in sub-packages:
//
//   - storage/memory   in-process map, used by tests and the default config
//   - storage/postgres pgx-backed table for persistent deployments
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrConflict is returned by a conditional Put when the key already exists.
	ErrConflict = errors.New("storage: conflict")
)

// Object is the metadata of one stored blob.
type Object struct {
	Key         string
	Size        int64
	ContentType string
	Modified    time.Time
}

// PutOptions modifies a Put call.
type PutOptions struct {
	// ContentType is stored alongside the blob. Default: application/octet-stream.
	ContentType string

	// IfNoneMatch makes the Put fail with ErrConflict when the key exists.
	IfNoneMatch bool
}

// Store is the storage collaborator contract. Implementations must be safe
// for concurrent use.
type Store interface {
	// Put stores body under key, replacing any existing blob unless
	// opts.IfNoneMatch is set.
	Put(ctx context.Context, key string, body []byte, opts PutOptions) error

	// Head returns the metadata of key or ErrNotFound.
	Head(ctx context.Context, key string) (Object, error)

	// Get returns the blob and metadata of key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, Object, error)

	// List returns the metadata of every key starting with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// DefaultContentType is used when PutOptions.ContentType is empty.
const DefaultContentType = "application/octet-stream"
