package apis

import (
	"net/http"

	"github.com/mcistack/mci/internal/common/httpx"
)

func (h *Handler) getDefinition(r *http.Request) (*httpx.Response, error) {
	id, err := definitionID(r)
	if err != nil {
		return nil, err
	}
	def, aerr := h.query.Get(r.Context(), id)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   def,
	}, nil
}

func (h *Handler) getDefinitionPayload(r *http.Request) (*httpx.Response, error) {
	id, err := definitionID(r)
	if err != nil {
		return nil, err
	}
	data, aerr := h.query.GetPayload(r.Context(), id)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode:  http.StatusOK,
		ContentType: "application/octet-stream",
		Raw:         data,
	}, nil
}

func (h *Handler) getDefinitionSecrets(r *http.Request) (*httpx.Response, error) {
	id, err := definitionID(r)
	if err != nil {
		return nil, err
	}
	data, aerr := h.query.GetSecrets(r.Context(), id)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode:  http.StatusOK,
		ContentType: "application/octet-stream",
		Raw:         data,
	}, nil
}
