// Package staging opens files that were uploaded ahead of a dataset
// preparation request.
package staging

import (
	"context"
	"io"

	"github.com/bayuaji732/data-prep-api/pkg/format"
)

// File is an open staged file. Close releases the underlying handle.
type File struct {
	format.Source
	io.Closer
}

// Store locates staged files by id and declared type.
type Store interface {
	Open(ctx context.Context, fileID, fileType string) (*File, error)
}
