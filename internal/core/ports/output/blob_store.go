package ports

import (
	"context"
	"io"
)

// BlobWriter is an uncommitted object. Readers never observe it until Commit
// returns; Abort discards it.
type BlobWriter interface {
	io.Writer
	Commit(ctx context.Context) (size int64, err error)
	Abort() error
}

// BlobStore is the storage capability shared by image reads and the artifact
// cache. Implementations: local filesystem and SFTP.
type BlobStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	OpenRead(ctx context.Context, key string) (io.ReadCloser, error)
	OpenWrite(ctx context.Context, key string) (BlobWriter, error)
	Remove(ctx context.Context, key string) error

	// LocalPath returns the filesystem path of key, or "" if the backend is not local.
	LocalPath(key string) string
	// PublicURL returns a URL clients can download key from, or "" if none is configured.
	PublicURL(key string) string
}
