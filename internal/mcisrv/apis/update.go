package apis

import (
	"net/http"

	"github.com/mcistack/mci/internal/common/httpx"
	"github.com/mcistack/mci/internal/mcisrv/ingest"
)

// Nil pointer fields are left unchanged. expected_digest, when set, is
// the content digest the client expects after the call: submitted
// alongside a new payload it must match the payload bytes (422
// otherwise); on a metadata-only update it is the digest the client
// read and the update fails with 409 if the row moved since.
type updateDefinitionReq struct {
	Type           *string `json:"type,omitempty"`
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	SourceURL      *string `json:"source_url,omitempty"`
	Payload        []byte  `json:"payload,omitempty"`
	PayloadURL     string  `json:"payload_url,omitempty"`
	ExpectedDigest string  `json:"expected_digest,omitempty"`
	Configuration  []byte  `json:"configuration,omitempty"`
	Secrets        []byte  `json:"secrets,omitempty"`
}

func (h *Handler) updateDefinition(r *http.Request) (*httpx.Response, error) {
	id, err := definitionID(r)
	if err != nil {
		return nil, err
	}
	var req updateDefinitionReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}

	def, aerr := h.engine.Update(r.Context(), &ingest.UpdateRequest{
		ID:             id,
		Type:           req.Type,
		Name:           req.Name,
		Description:    req.Description,
		SourceURL:      req.SourceURL,
		Payload:        req.Payload,
		PayloadURL:     req.PayloadURL,
		ExpectedDigest: req.ExpectedDigest,
		Configuration:  req.Configuration,
		Secrets:        req.Secrets,
	})
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   def,
	}, nil
}

type setEnabledReq struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *Handler) setDefinitionEnabled(r *http.Request) (*httpx.Response, error) {
	id, err := definitionID(r)
	if err != nil {
		return nil, err
	}
	var req setEnabledReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	if req.Enabled == nil {
		return nil, httpx.ErrInvalidRequest("enabled is required")
	}

	if aerr := h.md.SetDefinitionEnabled(r.Context(), id, *req.Enabled); aerr != nil {
		return nil, aerr
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

func (h *Handler) syncDefinition(r *http.Request) (*httpx.Response, error) {
	id, err := definitionID(r)
	if err != nil {
		return nil, err
	}
	def, aerr := h.engine.Sync(r.Context(), id)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   def,
	}, nil
}
