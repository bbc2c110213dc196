package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
)

// NewLocalStore creates a store rooted at a local directory.
func NewLocalStore(baseDir string, opts Options) (*BlobStore, error) {
	// Ensure base directory exists
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory %s: %w", baseDir, err)
	}

	bucket, err := fileblob.OpenBucket(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open local bucket %s: %w", abs, err)
	}
	return newBlobStore(bucket, "file://"+filepath.ToSlash(abs)+"/", opts), nil
}

// NewMemStore creates an in-memory store, for tests and dry runs.
func NewMemStore(opts Options) *BlobStore {
	return newBlobStore(memblob.OpenBucket(nil), "mem://", opts)
}
