// Package source resolves and fetches definition content from install
// sources: http(s) URLs, file:// URLs, and bare filesystem paths.
package source

import (
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/mcistack/mci/internal/common/apperrors"
)

var (
	ErrInvalidSource apperrors.Error = apperrors.New("invalid source").SetStatusCode(http.StatusBadRequest)
	ErrFetch         apperrors.Error = apperrors.New("source fetch failed").SetStatusCode(http.StatusBadGateway)
	ErrManifest      apperrors.Error = apperrors.New("invalid manifest").SetStatusCode(http.StatusUnprocessableEntity)
)

type Kind int

const (
	KindHTTP Kind = iota
	KindFile
)

// Source is a resolved content location. KindHTTP sources carry URL,
// KindFile sources carry Path.
type Source struct {
	Kind Kind
	URL  string
	Path string
}

// Parse accepts http(s) URLs, file:// URLs, and bare filesystem paths.
// Any other scheme is rejected.
func Parse(raw string) (*Source, apperrors.Error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidSource.New("source cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		// bare filesystem path
		return &Source{Kind: KindFile, Path: raw}, nil
	}
	switch u.Scheme {
	case "http", "https":
		return &Source{Kind: KindHTTP, URL: raw}, nil
	case "file":
		p := u.Path
		if u.Host != "" {
			p = filepath.Join(u.Host, p)
		}
		if p == "" {
			return nil, ErrInvalidSource.New("file source has no path")
		}
		return &Source{Kind: KindFile, Path: p}, nil
	}
	if len(u.Scheme) == 1 || !strings.Contains(raw, "://") {
		// single-letter schemes and scheme-less "host:port" forms are
		// really paths, not URLs
		return &Source{Kind: KindFile, Path: raw}, nil
	}
	return nil, ErrInvalidSource.New("unsupported source scheme: " + u.Scheme)
}

// Resolve interprets ref relative to s. An absolute ref (with its own
// scheme, or an absolute path) stands alone.
func (s *Source) Resolve(ref string) (*Source, apperrors.Error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrInvalidSource.New("reference cannot be empty")
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return Parse(ref)
	}
	switch s.Kind {
	case KindHTTP:
		base, err := url.Parse(s.URL)
		if err != nil {
			return nil, ErrInvalidSource.Err(err)
		}
		rel, err := url.Parse(ref)
		if err != nil {
			return nil, ErrInvalidSource.Err(err)
		}
		return &Source{Kind: KindHTTP, URL: base.ResolveReference(rel).String()}, nil
	default:
		if filepath.IsAbs(ref) {
			return &Source{Kind: KindFile, Path: ref}, nil
		}
		return &Source{Kind: KindFile, Path: filepath.Join(filepath.Dir(s.Path), ref)}, nil
	}
}

// String returns the location in the form callers supplied it,
// suitable for persisting as a source_url.
func (s *Source) String() string {
	if s.Kind == KindHTTP {
		return s.URL
	}
	return s.Path
}
