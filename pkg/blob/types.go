// Package blob keeps raw cluster status documents on disk so a structure
// change can be traced back to the CIB that caused it.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned for a key with no blob.
var ErrNotFound = errors.New("blob not found")

type BlobStore interface {
	Put(ctx context.Context, key string, reader io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}
