package apis

import (
	"net/http"

	"github.com/mcistack/mci/internal/common/httpx"
	"github.com/mcistack/mci/internal/mcisrv/ingest"
)

// Payload fields are base64 in JSON; definition content is arbitrary
// bytes, not necessarily JSON.
type createDefinitionReq struct {
	ID            string `json:"id" validate:"required"`
	Type          string `json:"type" validate:"required"`
	Name          string `json:"name" validate:"required"`
	Description   string `json:"description"`
	SourceURL     string `json:"source_url,omitempty"`
	Payload       []byte `json:"payload,omitempty"`
	PayloadURL    string `json:"payload_url,omitempty"`
	Digest        string `json:"digest,omitempty"`
	Configuration []byte `json:"configuration,omitempty"`
	Secrets       []byte `json:"secrets,omitempty"`
	Enabled       bool   `json:"enabled"`
}

func (h *Handler) createDefinition(r *http.Request) (*httpx.Response, error) {
	var req createDefinitionReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	if err := validate.Struct(&req); err != nil {
		return nil, httpx.ErrInvalidRequest(err.Error())
	}

	def, aerr := h.engine.Create(r.Context(), &ingest.CreateRequest{
		ID:             req.ID,
		Type:           req.Type,
		Name:           req.Name,
		Description:    req.Description,
		SourceURL:      req.SourceURL,
		Payload:        req.Payload,
		PayloadURL:     req.PayloadURL,
		ExpectedDigest: req.Digest,
		Configuration:  req.Configuration,
		Secrets:        req.Secrets,
		Enabled:        req.Enabled,
	})
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/definitions/" + def.ID,
		Response:   def,
	}, nil
}

type installDefinitionReq struct {
	Source string `json:"source" validate:"required"`
}

func (h *Handler) installDefinition(r *http.Request) (*httpx.Response, error) {
	var req installDefinitionReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	if err := validate.Struct(&req); err != nil {
		return nil, httpx.ErrInvalidRequest(err.Error())
	}

	def, aerr := h.engine.Install(r.Context(), req.Source)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/definitions/" + def.ID,
		Response:   def,
	}, nil
}
