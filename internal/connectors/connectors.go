package connectors

import (
	"context"
	"io"
	"io/fs"

	"remaininggoods/internal"
)

// Prober answers whether a host is worth contacting this cycle.
type Prober interface {
	Alive(ctx context.Context, host string) bool
}

// ShareDialer opens a read-only session on a site's file share.
type ShareDialer interface {
	Dial(ctx context.Context, target internal.RemoteTarget) (Share, error)
}

// Share is the slice of a remote file share the fetcher needs. Names are
// slash separated and relative to the share root. Implementations report
// locked or forbidden files as fs.ErrPermission.
type Share interface {
	ReadDir(dir string) ([]fs.FileInfo, error)
	Open(name string) (io.ReadCloser, error)
	Close() error
}
