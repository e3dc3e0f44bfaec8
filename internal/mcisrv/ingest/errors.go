package ingest

import (
	"net/http"

	"github.com/mcistack/mci/internal/common/apperrors"
	"github.com/mcistack/mci/internal/mcisrv/blob"
	"github.com/mcistack/mci/internal/mcisrv/db/dberror"
	"github.com/mcistack/mci/internal/mcisrv/digest"
	"github.com/mcistack/mci/internal/mcisrv/source"
)

// Ingestion error taxonomy. Callers branch on these; the underlying
// cause from the digest, source, blob, or db layer stays wrapped.
var (
	ErrIngest     apperrors.Error = apperrors.New("ingestion failed").SetStatusCode(http.StatusInternalServerError)
	ErrFetch      apperrors.Error = ErrIngest.New("payload fetch failed").SetStatusCode(http.StatusBadGateway)
	ErrIntegrity  apperrors.Error = ErrIngest.New("payload integrity check failed").SetStatusCode(http.StatusUnprocessableEntity)
	ErrStore      apperrors.Error = ErrIngest.New("object store write failed").SetStatusCode(http.StatusBadGateway)
	ErrConflict   apperrors.Error = ErrIngest.New("conflicting commit").SetStatusCode(http.StatusConflict)
	ErrNotFound   apperrors.Error = ErrIngest.New("definition not found").SetStatusCode(http.StatusNotFound)
	ErrValidation apperrors.Error = ErrIngest.New("invalid request").SetStatusCode(http.StatusBadRequest)
)

// classify folds a lower-layer error into the ingestion taxonomy,
// keeping the original chain wrapped for errors.Is.
func classify(err apperrors.Error) apperrors.Error {
	switch {
	case err == nil:
		return nil
	case err.Is(digest.ErrMismatch):
		return ErrIntegrity.Err(err)
	case err.Is(digest.ErrInvalidDigest):
		return ErrValidation.Err(err)
	case err.Is(source.ErrFetch):
		return ErrFetch.Err(err)
	case err.Is(source.ErrInvalidSource), err.Is(source.ErrManifest):
		return ErrValidation.Err(err)
	case err.Is(blob.ErrKeyConflict):
		return ErrIntegrity.Err(err)
	case err.Is(blob.ErrStore):
		return ErrStore.Err(err)
	case err.Is(dberror.ErrConflict), err.Is(dberror.ErrAlreadyExists):
		return ErrConflict.Err(err)
	case err.Is(dberror.ErrNotFound):
		return ErrNotFound.Err(err)
	case err.Is(dberror.ErrInvalidInput):
		return ErrValidation.Err(err)
	default:
		return ErrIngest.Err(err)
	}
}
