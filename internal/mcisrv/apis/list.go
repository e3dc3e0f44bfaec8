package apis

import (
	"net/http"
	"strconv"

	"github.com/mcistack/mci/internal/common/httpx"
	"github.com/mcistack/mci/internal/mcisrv/db/models"
)

func (h *Handler) listDefinitions(r *http.Request) (*httpx.Response, error) {
	filter, err := filterFromQuery(r)
	if err != nil {
		return nil, err
	}
	defs, aerr := h.query.List(r.Context(), filter)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   defs,
	}, nil
}

func filterFromQuery(r *http.Request) (*models.DefinitionFilter, error) {
	values := r.URL.Query()
	filter := &models.DefinitionFilter{
		Query: values.Get("query"),
		Type:  values.Get("type"),
	}

	if v := values.Get("enabled"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, httpx.ErrInvalidRequest("enabled must be a boolean")
		}
		filter.Enabled = &enabled
	}
	switch v := values.Get("sort"); v {
	case "", "name":
		filter.SortBy = models.SortByName
	case "id":
		filter.SortBy = models.SortByID
	case "type":
		filter.SortBy = models.SortByType
	default:
		return nil, httpx.ErrInvalidRequest("sort must be one of id, name, type")
	}
	switch v := values.Get("order"); v {
	case "", "asc":
	case "desc":
		filter.Descending = true
	default:
		return nil, httpx.ErrInvalidRequest("order must be asc or desc")
	}
	if v := values.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return nil, httpx.ErrInvalidRequest("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	if v := values.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return nil, httpx.ErrInvalidRequest("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}
	return filter, nil
}
