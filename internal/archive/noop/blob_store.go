// Package noop provides a blob store that discards snapshots.
package noop

import "context"

// BlobStore drops every object. Used when archiving is disabled.
type BlobStore struct{}

// New returns a no-op blob store.
func New() *BlobStore { return &BlobStore{} }

// PutObject discards the data and returns an empty URI.
func (*BlobStore) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", nil
}
