package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	json "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/mcistack/mci/internal/common/apperrors"
	"github.com/mcistack/mci/internal/mcisrv/digest"
)

const userAgent = "MCI/1.0"

// maxPayloadBytes bounds a single fetched payload. The registry stores
// definition artifacts, not bulk data.
const maxPayloadBytes = 64 << 20

// Manifest is the install document published next to a definition
// payload. FileURL may be relative to the manifest location.
type Manifest struct {
	ID          string `json:"id" validate:"required"`
	Type        string `json:"type" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	FileURL     string `json:"file_url" validate:"required"`
	Digest      string `json:"digest" validate:"required"`
	SourceURL   string `json:"source_url,omitempty"`
}

// Fetcher retrieves bytes from sources with a bounded timeout and
// bounded retries for transient failures.
type Fetcher struct {
	client   *http.Client
	attempts uint
}

func NewFetcher(timeout time.Duration, attempts int) *Fetcher {
	if attempts < 1 {
		attempts = 1
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		attempts: uint(attempts),
	}
}

// Fetch returns the content at src. HTTP 4xx responses are terminal;
// 5xx responses and transport errors are retried with backoff.
func (f *Fetcher) Fetch(ctx context.Context, src *Source) ([]byte, apperrors.Error) {
	if src.Kind == KindFile {
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, ErrFetch.Err(err)
		}
		return data, nil
	}

	var body []byte
	err := retry.Do(func() error {
		data, err := f.fetchHTTP(ctx, src.URL)
		if err != nil {
			return err
		}
		body = data
		return nil
	}, retry.Attempts(f.attempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Uint("attempt", n+1).Str("url", src.URL).Msg("source fetch retry")
		}))
	if err != nil {
		return nil, ErrFetch.Err(err)
	}
	return body, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("User-Agent", userAgent)
	rsp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d fetching %s", rsp.StatusCode, rawURL)
		if rsp.StatusCode >= 400 && rsp.StatusCode < 500 {
			return nil, retry.Unrecoverable(err)
		}
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(rsp.Body, maxPayloadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxPayloadBytes {
		return nil, retry.Unrecoverable(fmt.Errorf("payload exceeds %d bytes", maxPayloadBytes))
	}
	return data, nil
}

// FetchManifest fetches and decodes the install manifest at src.
func (f *Fetcher) FetchManifest(ctx context.Context, src *Source) (*Manifest, apperrors.Error) {
	data, aerr := f.Fetch(ctx, src)
	if aerr != nil {
		return nil, aerr
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, ErrManifest.Err(err)
	}
	if m.ID == "" || m.Type == "" || m.Name == "" || m.FileURL == "" {
		return nil, ErrManifest.New("manifest missing required fields")
	}
	if err := digest.Validate(m.Digest); err != nil {
		return nil, ErrManifest.MsgErr("manifest digest", err)
	}
	return &m, nil
}
