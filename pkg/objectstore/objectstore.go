// Package objectstore defines the opaque object-store boundary the spec
// names (put/head/move/list/delete) and one concrete adapter backed by
// Google Cloud Storage, since GCS_BUCKET/GCS_ENABLED (spec §6) name that
// provider specifically.
package objectstore

import (
	"context"
	"errors"
)

// ObjectInfo is the subset of object metadata the upload queue's
// integrity check and the scanner/resumer need.
type ObjectInfo struct {
	MD5  string // base64-encoded, comparable directly to a local file's MD5
	Size int64
}

// Store is the opaque object-store collaborator. Every stream (writer
// pool output, upload queue, ACS _COMPLETE marker, partition-repair mover)
// talks to the store only through this interface.
type Store interface {
	Put(ctx context.Context, localPath, remotePath string) error
	Head(ctx context.Context, remotePath string) (ObjectInfo, error)
	Move(ctx context.Context, srcPath, dstPath string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, remotePath string) error
}

// ErrNotFound is returned by Head and Delete for a key that does not exist.
var ErrNotFound = errors.New("objectstore: not found")
