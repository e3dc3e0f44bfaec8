package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcistack/mci/internal/mcisrv/digest"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw      string
		kind     Kind
		location string
		wantErr  bool
	}{
		{"https://example.com/defs/a.json", KindHTTP, "https://example.com/defs/a.json", false},
		{"http://localhost:8080/manifest.json", KindHTTP, "http://localhost:8080/manifest.json", false},
		{"file:///var/lib/mci/a.json", KindFile, "/var/lib/mci/a.json", false},
		{"/var/lib/mci/a.json", KindFile, "/var/lib/mci/a.json", false},
		{"relative/path.json", KindFile, "relative/path.json", false},
		{"  https://example.com/x  ", KindHTTP, "https://example.com/x", false},
		{"ftp://example.com/a.json", 0, "", true},
		{"", 0, "", true},
	}
	for _, tt := range tests {
		src, err := Parse(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.kind, src.Kind, tt.raw)
		assert.Equal(t, tt.location, src.String(), tt.raw)
	}
}

func TestResolve(t *testing.T) {
	base, err := Parse("https://example.com/defs/manifest.json")
	require.NoError(t, err)

	rel, err := base.Resolve("payload.bin")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/defs/payload.bin", rel.URL)

	abs, err := base.Resolve("https://cdn.example.com/p.bin")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/p.bin", abs.URL)

	fileBase, err := Parse("/var/lib/mci/manifest.json")
	require.NoError(t, err)
	fileRel, err := fileBase.Resolve("payload.bin")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/var/lib/mci", "payload.bin"), fileRel.Path)

	fileAbs, err := fileBase.Resolve("/elsewhere/p.bin")
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere/p.bin", fileAbs.Path)
}

func TestFetchHTTP(t *testing.T) {
	payload := []byte("definition payload")
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.Write(payload)
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, 3)
	src, err := Parse(srv.URL + "/payload")
	require.NoError(t, err)

	data, ferr := f.Fetch(context.Background(), src)
	require.NoError(t, ferr)
	assert.Equal(t, payload, data)
	assert.Equal(t, "MCI/1.0", gotUA.Load())
}

func TestFetchHTTPRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, 4)
	src, err := Parse(srv.URL)
	require.NoError(t, err)

	data, ferr := f.Fetch(context.Background(), src)
	require.NoError(t, ferr)
	assert.Equal(t, []byte("ok"), data)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchHTTPClientErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, 4)
	src, err := Parse(srv.URL)
	require.NoError(t, err)

	_, ferr := f.Fetch(context.Background(), src)
	require.Error(t, ferr)
	assert.ErrorIs(t, ferr, ErrFetch)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o644))

	f := NewFetcher(time.Second, 1)
	src, err := Parse(path)
	require.NoError(t, err)

	data, ferr := f.Fetch(context.Background(), src)
	require.NoError(t, ferr)
	assert.Equal(t, []byte(`{"a":1}`), data)

	missing, err := Parse(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	_, ferr = f.Fetch(context.Background(), missing)
	require.Error(t, ferr)
	assert.ErrorIs(t, ferr, ErrFetch)
}

func TestFetchManifest(t *testing.T) {
	payload := []byte("the definition body")
	m := Manifest{
		ID:      "weather-tool",
		Type:    "tool",
		Name:    "Weather Tool",
		FileURL: "payload.bin",
		Digest:  digest.Compute(payload),
	}
	body, err := json.Marshal(m)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, 1)
	src, perr := Parse(srv.URL + "/manifest.json")
	require.NoError(t, perr)

	got, ferr := f.FetchManifest(context.Background(), src)
	require.NoError(t, ferr)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Digest, got.Digest)
}

func TestFetchManifestInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "not json at all"},
		{"missing fields", `{"id":"x"}`},
		{"bad digest", `{"id":"x","type":"tool","name":"X","file_url":"p.bin","digest":"sha1:abcd"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			f := NewFetcher(5*time.Second, 1)
			src, err := Parse(srv.URL)
			require.NoError(t, err)
			_, ferr := f.FetchManifest(context.Background(), src)
			require.Error(t, ferr)
			assert.ErrorIs(t, ferr, ErrManifest)
		})
	}
}
