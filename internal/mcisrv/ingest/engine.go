// Package ingest implements the ingestion engine: the pipeline that
// takes definition content from a request or a remote source through
// fetch, digest verification, and blob storage to an atomic metadata
// commit. A definition only becomes visible once its commit lands;
// failures at any stage leave the metadata store untouched and leave at
// most orphaned blobs for the garbage collector.
package ingest

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/mcistack/mci/internal/common/apperrors"
	"github.com/mcistack/mci/internal/mcisrv/blob"
	"github.com/mcistack/mci/internal/mcisrv/db"
	"github.com/mcistack/mci/internal/mcisrv/db/models"
	"github.com/mcistack/mci/internal/mcisrv/digest"
	"github.com/mcistack/mci/internal/mcisrv/source"
)

type Engine struct {
	md      db.MetadataManager
	store   blob.Store
	fetcher *source.Fetcher
}

func NewEngine(md db.MetadataManager, store blob.Store, fetcher *source.Fetcher) *Engine {
	return &Engine{md: md, store: store, fetcher: fetcher}
}

// CreateRequest carries the content and metadata for a new definition.
// Exactly one of Payload and PayloadURL must be set. ExpectedDigest,
// when present, is verified against the payload bytes before anything
// is stored.
type CreateRequest struct {
	ID             string
	Type           string
	Name           string
	Description    string
	SourceURL      string
	Payload        []byte
	PayloadURL     string
	ExpectedDigest string
	Configuration  []byte
	Secrets        []byte
	Enabled        bool
}

// UpdateRequest mutates an existing definition. Nil pointer fields are
// left unchanged. A non-nil Payload or PayloadURL replaces the content.
// ExpectedDigest states the content digest the caller expects after the
// call: with a new payload it is verified against the payload bytes
// before anything is stored (ErrIntegrity on mismatch); without one it
// is the prior digest the caller read and the commit fails with
// ErrConflict if the row moved since.
type UpdateRequest struct {
	ID             string
	Type           *string
	Name           *string
	Description    *string
	SourceURL      *string
	Payload        []byte
	PayloadURL     string
	ExpectedDigest string
	Configuration  []byte
	Secrets        []byte
}

// Create runs the full ingestion pipeline for a new definition.
func (e *Engine) Create(ctx context.Context, req *CreateRequest) (*models.Definition, apperrors.Error) {
	if req.Payload == nil && req.PayloadURL == "" {
		return nil, e.fail(ctx, req.ID, ErrValidation.New("either payload or payload_url is required"))
	}
	if req.Payload != nil && req.PayloadURL != "" {
		return nil, e.fail(ctx, req.ID, ErrValidation.New("payload and payload_url are mutually exclusive"))
	}
	transition(ctx, req.ID, StatePending)

	payload := req.Payload
	sourceURL := req.SourceURL
	if req.PayloadURL != "" {
		transition(ctx, req.ID, StateFetching)
		src, aerr := source.Parse(req.PayloadURL)
		if aerr != nil {
			return nil, e.fail(ctx, req.ID, aerr)
		}
		payload, aerr = e.fetcher.Fetch(ctx, src)
		if aerr != nil {
			return nil, e.fail(ctx, req.ID, aerr)
		}
		if sourceURL == "" {
			sourceURL = req.PayloadURL
		}
	}

	transition(ctx, req.ID, StateVerifying)
	if req.ExpectedDigest != "" {
		if aerr := digest.Verify(payload, req.ExpectedDigest); aerr != nil {
			return nil, e.fail(ctx, req.ID, aerr)
		}
	}
	d := digest.Compute(payload)

	transition(ctx, req.ID, StateStoring)
	defKey := blob.KeyForDigest(blob.NamespaceDefinitions, d)
	if aerr := e.putBlob(ctx, defKey, payload); aerr != nil {
		return nil, e.fail(ctx, req.ID, aerr)
	}
	var configKey, secretsKey string
	if req.Configuration != nil {
		configKey = blob.KeyForDigest(blob.NamespaceConfigurations, digest.Compute(req.Configuration))
		if aerr := e.putBlob(ctx, configKey, req.Configuration); aerr != nil {
			return nil, e.fail(ctx, req.ID, aerr)
		}
	}
	if req.Secrets != nil {
		secretsKey = blob.KeyForDigest(blob.NamespaceSecrets, digest.Compute(req.Secrets))
		if aerr := e.putBlob(ctx, secretsKey, req.Secrets); aerr != nil {
			return nil, e.fail(ctx, req.ID, aerr)
		}
	}

	transition(ctx, req.ID, StateCommitting)
	def := &models.Definition{
		ID:                     req.ID,
		Type:                   req.Type,
		Enabled:                req.Enabled,
		Name:                   req.Name,
		Description:            req.Description,
		Digest:                 d,
		SourceURL:              sourceURL,
		DefinitionObjectKey:    defKey,
		ConfigurationObjectKey: configKey,
		SecretsObjectKey:       secretsKey,
	}
	if aerr := e.md.CreateDefinition(ctx, def); aerr != nil {
		return nil, e.fail(ctx, req.ID, aerr)
	}
	transition(ctx, req.ID, StateActive)
	return e.committed(ctx, req.ID)
}

// committed re-reads the row after a commit so callers see the stored
// timestamps.
func (e *Engine) committed(ctx context.Context, id string) (*models.Definition, apperrors.Error) {
	def, aerr := e.md.GetDefinition(ctx, id)
	if aerr != nil {
		return nil, classify(aerr)
	}
	return def, nil
}

// Update applies metadata changes and, optionally, new content. The
// commit is compare-and-set on the digest read at the start, so two
// racing updates cannot silently overwrite each other.
func (e *Engine) Update(ctx context.Context, req *UpdateRequest) (*models.Definition, apperrors.Error) {
	cur, aerr := e.md.GetDefinition(ctx, req.ID)
	if aerr != nil {
		return nil, e.fail(ctx, req.ID, aerr)
	}

	def := *cur
	if req.Type != nil {
		def.Type = *req.Type
	}
	if req.Name != nil {
		def.Name = *req.Name
	}
	if req.Description != nil {
		def.Description = *req.Description
	}
	if req.SourceURL != nil {
		def.SourceURL = *req.SourceURL
	}

	var superseded []string
	if req.Payload != nil || req.PayloadURL != "" {
		payload := req.Payload
		if req.PayloadURL != "" {
			transition(ctx, req.ID, StateFetching)
			src, aerr := source.Parse(req.PayloadURL)
			if aerr != nil {
				return nil, e.fail(ctx, req.ID, aerr)
			}
			payload, aerr = e.fetcher.Fetch(ctx, src)
			if aerr != nil {
				return nil, e.fail(ctx, req.ID, aerr)
			}
		}
		transition(ctx, req.ID, StateVerifying)
		if req.ExpectedDigest != "" {
			if aerr := digest.Verify(payload, req.ExpectedDigest); aerr != nil {
				return nil, e.fail(ctx, req.ID, aerr)
			}
		}
		d := digest.Compute(payload)
		if d != cur.Digest {
			transition(ctx, req.ID, StateStoring)
			key := blob.KeyForDigest(blob.NamespaceDefinitions, d)
			if aerr := e.putBlob(ctx, key, payload); aerr != nil {
				return nil, e.fail(ctx, req.ID, aerr)
			}
			superseded = append(superseded, cur.DefinitionObjectKey)
			def.Digest = d
			def.DefinitionObjectKey = key
		}
	}
	if req.Configuration != nil {
		key := blob.KeyForDigest(blob.NamespaceConfigurations, digest.Compute(req.Configuration))
		if key != cur.ConfigurationObjectKey {
			if aerr := e.putBlob(ctx, key, req.Configuration); aerr != nil {
				return nil, e.fail(ctx, req.ID, aerr)
			}
			if cur.ConfigurationObjectKey != "" {
				superseded = append(superseded, cur.ConfigurationObjectKey)
			}
			def.ConfigurationObjectKey = key
		}
	}
	if req.Secrets != nil {
		key := blob.KeyForDigest(blob.NamespaceSecrets, digest.Compute(req.Secrets))
		if key != cur.SecretsObjectKey {
			if aerr := e.putBlob(ctx, key, req.Secrets); aerr != nil {
				return nil, e.fail(ctx, req.ID, aerr)
			}
			if cur.SecretsObjectKey != "" {
				superseded = append(superseded, cur.SecretsObjectKey)
			}
			def.SecretsObjectKey = key
		}
	}

	transition(ctx, req.ID, StateCommitting)
	expected := cur.Digest
	if req.Payload == nil && req.PayloadURL == "" && req.ExpectedDigest != "" {
		expected = req.ExpectedDigest
	}
	if aerr := e.md.UpdateDefinition(ctx, &def, expected, superseded); aerr != nil {
		return nil, e.fail(ctx, req.ID, aerr)
	}
	transition(ctx, req.ID, StateActive)
	return e.committed(ctx, req.ID)
}

// Install creates a definition from an install source: the source
// yields a manifest, the manifest names the payload and its digest.
// The definition's source_url defaults to the install source when the
// manifest does not carry one.
func (e *Engine) Install(ctx context.Context, rawSource string) (*models.Definition, apperrors.Error) {
	src, aerr := source.Parse(rawSource)
	if aerr != nil {
		return nil, e.fail(ctx, "", aerr)
	}
	man, aerr := e.fetcher.FetchManifest(ctx, src)
	if aerr != nil {
		return nil, e.fail(ctx, "", aerr)
	}
	payload, aerr := e.fetchManifestPayload(ctx, src, man)
	if aerr != nil {
		return nil, e.fail(ctx, man.ID, aerr)
	}
	sourceURL := man.SourceURL
	if sourceURL == "" {
		sourceURL = src.String()
	}
	return e.Create(ctx, &CreateRequest{
		ID:             man.ID,
		Type:           man.Type,
		Name:           man.Name,
		Description:    man.Description,
		SourceURL:      sourceURL,
		Payload:        payload,
		ExpectedDigest: man.Digest,
	})
}

// Sync re-fetches the manifest from the definition's stored source_url.
// When the manifest digest matches the current row the sync is a no-op;
// otherwise the new payload is ingested and committed with
// compare-and-set on the digest the row had when the sync started.
func (e *Engine) Sync(ctx context.Context, id string) (*models.Definition, apperrors.Error) {
	cur, aerr := e.md.GetDefinition(ctx, id)
	if aerr != nil {
		return nil, e.fail(ctx, id, aerr)
	}
	if cur.SourceURL == "" {
		return nil, e.fail(ctx, id, ErrValidation.New("definition has no source_url to sync from"))
	}
	src, aerr := source.Parse(cur.SourceURL)
	if aerr != nil {
		return nil, e.fail(ctx, id, aerr)
	}
	transition(ctx, id, StateFetching)
	man, aerr := e.fetcher.FetchManifest(ctx, src)
	if aerr != nil {
		return nil, e.fail(ctx, id, aerr)
	}
	if man.Digest == cur.Digest {
		log.Ctx(ctx).Debug().Str("id", id).Msg("source digest unchanged, sync is a no-op")
		return cur, nil
	}
	payload, aerr := e.fetchManifestPayload(ctx, src, man)
	if aerr != nil {
		return nil, e.fail(ctx, id, aerr)
	}

	transition(ctx, id, StateStoring)
	key := blob.KeyForDigest(blob.NamespaceDefinitions, man.Digest)
	if aerr := e.putBlob(ctx, key, payload); aerr != nil {
		return nil, e.fail(ctx, id, aerr)
	}

	transition(ctx, id, StateCommitting)
	def := *cur
	def.Type = man.Type
	def.Name = man.Name
	def.Description = man.Description
	def.Digest = man.Digest
	def.DefinitionObjectKey = key
	if aerr := e.md.UpdateDefinition(ctx, &def, cur.Digest, []string{cur.DefinitionObjectKey}); aerr != nil {
		return nil, e.fail(ctx, id, aerr)
	}
	transition(ctx, id, StateActive)
	return e.committed(ctx, id)
}

func (e *Engine) fetchManifestPayload(ctx context.Context, src *source.Source, man *source.Manifest) ([]byte, apperrors.Error) {
	payloadSrc, aerr := src.Resolve(man.FileURL)
	if aerr != nil {
		return nil, aerr
	}
	transition(ctx, man.ID, StateFetching)
	payload, aerr := e.fetcher.Fetch(ctx, payloadSrc)
	if aerr != nil {
		return nil, aerr
	}
	transition(ctx, man.ID, StateVerifying)
	if aerr := digest.Verify(payload, man.Digest); aerr != nil {
		return nil, aerr
	}
	return payload, nil
}

// putBlob writes one object with bounded retries. Key conflicts and
// malformed keys are terminal; everything else is treated as transient.
func (e *Engine) putBlob(ctx context.Context, key string, data []byte) apperrors.Error {
	err := retry.Do(func() error {
		if aerr := e.store.Put(ctx, key, data); aerr != nil {
			if aerr.Is(blob.ErrKeyConflict) || aerr.Is(blob.ErrInvalidKey) {
				return retry.Unrecoverable(aerr)
			}
			return aerr
		}
		return nil
	}, retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx))
	if err != nil {
		if aerr, ok := err.(apperrors.Error); ok {
			return aerr
		}
		return blob.ErrStore.Err(err)
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, id string, aerr apperrors.Error) apperrors.Error {
	cerr := classify(aerr)
	ev := log.Ctx(ctx).Error().Err(cerr)
	if id != "" {
		ev = ev.Str("id", id)
	}
	if st := failureState(cerr); st != "" {
		ev = ev.Str("state", string(st))
	}
	ev.Msg("ingestion failed")
	return cerr
}

func transition(ctx context.Context, id string, st State) {
	log.Ctx(ctx).Debug().Str("id", id).Str("state", string(st)).Msg("ingestion state")
}
