// Package apis exposes the definition registry over HTTP. Handlers
// return httpx.Response values; error mapping happens in the httpx
// wrapper via the errors' embedded status codes.
package apis

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mcistack/mci/internal/common/httpx"
	"github.com/mcistack/mci/internal/mcisrv/db"
	"github.com/mcistack/mci/internal/mcisrv/ingest"
	"github.com/mcistack/mci/internal/mcisrv/query"
)

type Handler struct {
	engine *ingest.Engine
	query  *query.Service
	md     db.MetadataManager
}

func New(engine *ingest.Engine, q *query.Service, md db.MetadataManager) *Handler {
	return &Handler{engine: engine, query: q, md: md}
}

var validate = validator.New()

func (h *Handler) Router(r chi.Router) {
	handlers := []httpx.ResponseHandlerParam{
		{
			Method:  http.MethodGet,
			Path:    "/definitions",
			Handler: h.listDefinitions,
		},
		{
			Method:  http.MethodPost,
			Path:    "/definitions",
			Handler: h.createDefinition,
		},
		{
			Method:  http.MethodPost,
			Path:    "/definitions/install",
			Handler: h.installDefinition,
		},
		{
			Method:  http.MethodGet,
			Path:    "/definitions/{definitionID}",
			Handler: h.getDefinition,
		},
		{
			Method:  http.MethodPatch,
			Path:    "/definitions/{definitionID}",
			Handler: h.updateDefinition,
		},
		{
			Method:  http.MethodDelete,
			Path:    "/definitions/{definitionID}",
			Handler: h.deleteDefinition,
		},
		{
			Method:  http.MethodPut,
			Path:    "/definitions/{definitionID}/enabled",
			Handler: h.setDefinitionEnabled,
		},
		{
			Method:  http.MethodPost,
			Path:    "/definitions/{definitionID}/sync",
			Handler: h.syncDefinition,
		},
		{
			Method:  http.MethodGet,
			Path:    "/definitions/{definitionID}/payload",
			Handler: h.getDefinitionPayload,
		},
		{
			Method:  http.MethodGet,
			Path:    "/definitions/{definitionID}/secrets",
			Handler: h.getDefinitionSecrets,
		},
	}
	for _, handler := range handlers {
		r.Method(handler.Method, handler.Path, httpx.WrapHttpRsp(handler.Handler))
	}
}

func definitionID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "definitionID")
	if id == "" {
		return "", httpx.ErrInvalidRequest("missing definition id")
	}
	return id, nil
}
