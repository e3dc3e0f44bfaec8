// Package blob provides the content-addressed object store backing the
// registry. Keys are derived from payload digests, so identical content
// maps to the same object regardless of which definition references it.
package blob

import (
	"context"
	"net/http"
	"time"

	"github.com/mcistack/mci/internal/common/apperrors"
)

// Payload namespaces. Secret payloads live in a namespace distinct from
// definition and configuration content and are never part of metadata
// listings.
const (
	NamespaceDefinitions    = "definitions"
	NamespaceConfigurations = "configurations"
	NamespaceSecrets        = "secrets"
)

var Namespaces = []string{NamespaceDefinitions, NamespaceConfigurations, NamespaceSecrets}

var (
	ErrStore       apperrors.Error = apperrors.New("object store error").SetStatusCode(http.StatusBadGateway)
	ErrNotFound    apperrors.Error = ErrStore.New("object not found").SetStatusCode(http.StatusNotFound)
	ErrKeyConflict apperrors.Error = ErrStore.New("key does not match content").SetStatusCode(http.StatusInternalServerError)
	ErrInvalidKey  apperrors.Error = ErrStore.New("invalid object key").SetStatusCode(http.StatusBadRequest)
)

// KeyForDigest derives the object key for a payload digest within a
// namespace, e.g. "definitions/sha256:ab12...".
func KeyForDigest(namespace, digest string) string {
	return namespace + "/" + digest
}

// ObjectInfo describes a stored object. ModTime lets the garbage
// collector skip objects younger than the grace period, which covers
// blobs written by ingestions that have not committed yet.
type ObjectInfo struct {
	Key     string
	ModTime time.Time
}

// Store is a content-addressed object store. Put is idempotent: writing
// bytes that already exist under their key is a no-op, and writing bytes
// that do not hash to the key's digest fails with ErrKeyConflict. All
// operations may fail transiently and are safe to retry.
type Store interface {
	Put(ctx context.Context, key string, data []byte) apperrors.Error
	Get(ctx context.Context, key string) ([]byte, apperrors.Error)
	Delete(ctx context.Context, key string) apperrors.Error
	List(ctx context.Context, namespace string) ([]ObjectInfo, apperrors.Error)
}
