package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrBlobNotFound is returned by Get for unknown storage ids.
var ErrBlobNotFound = errors.New("storage: blob not found")

// BlobStore holds raw image bytes behind opaque storage ids.
type BlobStore interface {
	// Put stores data and returns its new storage id.
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, storageID string) ([]byte, error)
	// URL returns a fetchable URL, or "" when the blob cannot be served.
	URL(ctx context.Context, storageID string) (string, error)
	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, storageID string) error
}

// NewStorageID builds a fresh key of the form blobs/<uuid><ext>.
func NewStorageID(contentType string) string {
	return "blobs/" + uuid.NewString() + ExtensionForMIME(contentType)
}

// ExtensionForMIME maps image MIME types to file extensions.
func ExtensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}
