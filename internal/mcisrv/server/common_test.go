package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcistack/mci/internal/mcisrv/blob"
	"github.com/mcistack/mci/internal/mcisrv/db"
	"github.com/mcistack/mci/internal/mcisrv/ingest"
	"github.com/mcistack/mci/internal/mcisrv/source"
)

func newTestServer(t *testing.T) *RegistryServer {
	t.Helper()
	md, aerr := db.New(context.Background(), "sqlite", filepath.Join(t.TempDir(), "mci.db"))
	require.NoError(t, aerr)
	t.Cleanup(func() { md.Close() })

	store, aerr := blob.NewFSStore(t.TempDir(), false)
	require.NoError(t, aerr)

	engine := ingest.NewEngine(md, store, source.NewFetcher(5*time.Second, 2))
	s, err := CreateNewServer(md, store, engine)
	require.NoError(t, err)
	s.MountHandlers()
	return s
}

func executeTestRequest(t *testing.T, s *RegistryServer, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out))
}
