package apis

import (
	"net/http"

	"github.com/mcistack/mci/internal/common/httpx"
)

// Delete is a hard delete. The definition's object keys are recorded in
// the blob history so the garbage collector reclaims its blobs only
// after the grace period.
func (h *Handler) deleteDefinition(r *http.Request) (*httpx.Response, error) {
	id, err := definitionID(r)
	if err != nil {
		return nil, err
	}
	if aerr := h.md.DeleteDefinition(r.Context(), id); aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusNoContent,
	}, nil
}
