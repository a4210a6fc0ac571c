// Package storage uploads inspiration images to content-addressed stores.
package storage

import (
	"context"
	"io"
)

// Uploader stores a blob and returns a URI derived from its content.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, body io.Reader) (string, error)
}

// MaxUploadBytes bounds a single inspiration image.
const MaxUploadBytes = 10 << 20
