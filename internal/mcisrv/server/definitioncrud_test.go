package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcistack/mci/internal/mcisrv/config"
	"github.com/mcistack/mci/internal/mcisrv/db/models"
	"github.com/mcistack/mci/internal/mcisrv/digest"
	"github.com/mcistack/mci/internal/mcisrv/source"
)

func createBody(id string, payload []byte) map[string]any {
	return map[string]any{
		"id":      id,
		"type":    "prompt",
		"name":    "Definition " + id,
		"payload": payload,
	}
}

func TestCreateAndGetDefinitionAPI(t *testing.T) {
	s := newTestServer(t)
	payload := []byte(`{"prompt":"hello"}`)

	rr := executeTestRequest(t, s, http.MethodPost, "/definitions", createBody("alpha", payload))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "/definitions/alpha", rr.Header().Get("Location"))

	var created models.Definition
	decodeBody(t, rr, &created)
	assert.Equal(t, digest.Compute(payload), created.Digest)
	assert.Empty(t, created.SecretsObjectKey)

	rr = executeTestRequest(t, s, http.MethodGet, "/definitions/alpha", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got models.Definition
	decodeBody(t, rr, &got)
	assert.Equal(t, created.Digest, got.Digest)
}

func TestCreateDefinitionValidationAPI(t *testing.T) {
	s := newTestServer(t)

	// missing required fields
	rr := executeTestRequest(t, s, http.MethodPost, "/definitions", map[string]any{"id": "alpha"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// no payload at all
	rr = executeTestRequest(t, s, http.MethodPost, "/definitions", map[string]any{
		"id": "alpha", "type": "prompt", "name": "Alpha",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// digest mismatch
	body := createBody("alpha", []byte("actual"))
	body["digest"] = digest.Compute([]byte("expected"))
	rr = executeTestRequest(t, s, http.MethodPost, "/definitions", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestCreateDuplicateAPI(t *testing.T) {
	s := newTestServer(t)

	rr := executeTestRequest(t, s, http.MethodPost, "/definitions", createBody("alpha", []byte("v1")))
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = executeTestRequest(t, s, http.MethodPost, "/definitions", createBody("alpha", []byte("v2")))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestListDefinitionsAPI(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("def-%d", i)
		body := createBody(id, []byte("payload-"+id))
		if i == 2 {
			body["type"] = "tool"
		}
		rr := executeTestRequest(t, s, http.MethodPost, "/definitions", body)
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := executeTestRequest(t, s, http.MethodGet, "/definitions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var defs []models.Definition
	decodeBody(t, rr, &defs)
	assert.Len(t, defs, 3)

	rr = executeTestRequest(t, s, http.MethodGet, "/definitions?type=tool", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &defs)
	require.Len(t, defs, 1)
	assert.Equal(t, "def-2", defs[0].ID)

	rr = executeTestRequest(t, s, http.MethodGet, "/definitions?sort=id&order=desc&limit=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &defs)
	require.Len(t, defs, 1)
	assert.Equal(t, "def-2", defs[0].ID)

	rr = executeTestRequest(t, s, http.MethodGet, "/definitions?enabled=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateDefinitionAPI(t *testing.T) {
	s := newTestServer(t)
	rr := executeTestRequest(t, s, http.MethodPost, "/definitions", createBody("alpha", []byte("v1")))
	require.Equal(t, http.StatusCreated, rr.Code)
	var created models.Definition
	decodeBody(t, rr, &created)

	rr = executeTestRequest(t, s, http.MethodPatch, "/definitions/alpha", map[string]any{
		"description": "updated description",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated models.Definition
	decodeBody(t, rr, &updated)
	assert.Equal(t, "updated description", updated.Description)
	assert.Equal(t, created.Digest, updated.Digest)

	// new payload whose bytes do not hash to the expected digest
	rr = executeTestRequest(t, s, http.MethodPatch, "/definitions/alpha", map[string]any{
		"payload":         []byte("v2"),
		"expected_digest": created.Digest,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	// metadata-only update holding a digest the row no longer has
	rr = executeTestRequest(t, s, http.MethodPatch, "/definitions/alpha", map[string]any{
		"name":            "stale writer",
		"expected_digest": digest.Compute([]byte("never the stored digest")),
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	// new payload with its matching digest
	rr = executeTestRequest(t, s, http.MethodPatch, "/definitions/alpha", map[string]any{
		"payload":         []byte("v2"),
		"expected_digest": digest.Compute([]byte("v2")),
	})
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &updated)
	assert.Equal(t, digest.Compute([]byte("v2")), updated.Digest)
}

func TestDeleteDefinitionAPI(t *testing.T) {
	s := newTestServer(t)
	rr := executeTestRequest(t, s, http.MethodPost, "/definitions", createBody("alpha", []byte("v1")))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = executeTestRequest(t, s, http.MethodDelete, "/definitions/alpha", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = executeTestRequest(t, s, http.MethodGet, "/definitions/alpha", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = executeTestRequest(t, s, http.MethodDelete, "/definitions/alpha", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEnableDisableAPI(t *testing.T) {
	s := newTestServer(t)
	rr := executeTestRequest(t, s, http.MethodPost, "/definitions", createBody("alpha", []byte("v1")))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = executeTestRequest(t, s, http.MethodPut, "/definitions/alpha/enabled", map[string]any{"enabled": true})
	require.Equal(t, http.StatusOK, rr.Code)
	var def models.Definition
	decodeBody(t, rr, &def)
	assert.True(t, def.Enabled)

	rr = executeTestRequest(t, s, http.MethodPut, "/definitions/alpha/enabled", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetPayloadAPI(t *testing.T) {
	s := newTestServer(t)
	payload := []byte("raw payload bytes")
	rr := executeTestRequest(t, s, http.MethodPost, "/definitions", createBody("alpha", payload))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = executeTestRequest(t, s, http.MethodGet, "/definitions/alpha/payload", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/octet-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, payload, rr.Body.Bytes())
}

func TestSecretsAPIGated(t *testing.T) {
	secret := []byte(`{"token":"s3cr3t"}`)
	body := createBody("alpha", []byte("payload"))
	body["secrets"] = secret

	// gate closed
	config.Config().SecretsAPI = false
	s := newTestServer(t)
	rr := executeTestRequest(t, s, http.MethodPost, "/definitions", body)
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = executeTestRequest(t, s, http.MethodGet, "/definitions/alpha/secrets", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// gate open
	config.Config().SecretsAPI = true
	defer func() { config.Config().SecretsAPI = false }()
	s = newTestServer(t)
	rr = executeTestRequest(t, s, http.MethodPost, "/definitions", body)
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = executeTestRequest(t, s, http.MethodGet, "/definitions/alpha/secrets", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, secret, rr.Body.Bytes())
}

func TestInstallAndSyncAPI(t *testing.T) {
	s := newTestServer(t)

	payload := []byte("installed body v1")
	man := source.Manifest{
		ID:      "installed-def",
		Type:    "tool",
		Name:    "Installed",
		FileURL: "payload.bin",
		Digest:  digest.Compute(payload),
	}
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		body, _ := json.Marshal(man)
		mu.Unlock()
		w.Write(body)
	})
	mux.HandleFunc("/payload.bin", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		p := payload
		mu.Unlock()
		w.Write(p)
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	rr := executeTestRequest(t, s, http.MethodPost, "/definitions/install", map[string]any{
		"source": upstream.URL + "/manifest.json",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var def models.Definition
	decodeBody(t, rr, &def)
	assert.Equal(t, "installed-def", def.ID)
	assert.Equal(t, upstream.URL+"/manifest.json", def.SourceURL)

	// unchanged upstream: sync is a no-op
	rr = executeTestRequest(t, s, http.MethodPost, "/definitions/installed-def/sync", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var synced models.Definition
	decodeBody(t, rr, &synced)
	assert.Equal(t, def.Digest, synced.Digest)

	// new upstream content: sync ingests it
	mu.Lock()
	payload = []byte("installed body v2")
	man.Digest = digest.Compute(payload)
	mu.Unlock()
	rr = executeTestRequest(t, s, http.MethodPost, "/definitions/installed-def/sync", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &synced)
	assert.Equal(t, digest.Compute([]byte("installed body v2")), synced.Digest)
}

func TestInstallBadSourceAPI(t *testing.T) {
	s := newTestServer(t)
	rr := executeTestRequest(t, s, http.MethodPost, "/definitions/install", map[string]any{
		"source": "ftp://example.com/manifest.json",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
