// Package query serves reads over committed definitions. It only ever
// observes committed metadata rows, and it never exposes the secrets
// object key through listings or gets; secret payloads are served by a
// separate, config-gated operation.
package query

import (
	"context"
	"net/http"

	"github.com/mcistack/mci/internal/common/apperrors"
	"github.com/mcistack/mci/internal/mcisrv/blob"
	"github.com/mcistack/mci/internal/mcisrv/db"
	"github.com/mcistack/mci/internal/mcisrv/db/models"
	"github.com/mcistack/mci/internal/mcisrv/digest"
)

var (
	ErrSecretsDisabled apperrors.Error = apperrors.New("secrets api is disabled").SetStatusCode(http.StatusForbidden)
	ErrNoSecrets       apperrors.Error = apperrors.New("definition has no secrets").SetStatusCode(http.StatusNotFound)
	ErrCorrupted       apperrors.Error = apperrors.New("stored payload corrupted").SetStatusCode(http.StatusInternalServerError)
)

type Service struct {
	md             db.MetadataManager
	store          blob.Store
	secretsEnabled bool
}

func New(md db.MetadataManager, store blob.Store, secretsEnabled bool) *Service {
	return &Service{md: md, store: store, secretsEnabled: secretsEnabled}
}

// Get returns one definition with the secrets key stripped.
func (s *Service) Get(ctx context.Context, id string) (*models.Definition, apperrors.Error) {
	def, aerr := s.md.GetDefinition(ctx, id)
	if aerr != nil {
		return nil, aerr
	}
	return strip(def), nil
}

// List returns matching definitions with secrets keys stripped.
func (s *Service) List(ctx context.Context, filter *models.DefinitionFilter) ([]*models.Definition, apperrors.Error) {
	defs, aerr := s.md.ListDefinitions(ctx, filter)
	if aerr != nil {
		return nil, aerr
	}
	out := make([]*models.Definition, 0, len(defs))
	for _, def := range defs {
		out = append(out, strip(def))
	}
	return out, nil
}

// GetPayload returns the definition payload bytes, verified against the
// row digest before they leave the server.
func (s *Service) GetPayload(ctx context.Context, id string) ([]byte, apperrors.Error) {
	def, aerr := s.md.GetDefinition(ctx, id)
	if aerr != nil {
		return nil, aerr
	}
	data, aerr := s.store.Get(ctx, def.DefinitionObjectKey)
	if aerr != nil {
		return nil, aerr
	}
	if verr := digest.Verify(data, def.Digest); verr != nil {
		return nil, ErrCorrupted.Err(verr)
	}
	return data, nil
}

// GetSecrets returns the secret payload. The operation is disabled
// unless the server config turns the secrets API on. Callers must not
// log the returned bytes.
func (s *Service) GetSecrets(ctx context.Context, id string) ([]byte, apperrors.Error) {
	if !s.secretsEnabled {
		return nil, ErrSecretsDisabled
	}
	def, aerr := s.md.GetDefinition(ctx, id)
	if aerr != nil {
		return nil, aerr
	}
	if def.SecretsObjectKey == "" {
		return nil, ErrNoSecrets.New("definition has no secrets: " + id)
	}
	return s.store.Get(ctx, def.SecretsObjectKey)
}

func strip(def *models.Definition) *models.Definition {
	out := *def
	out.SecretsObjectKey = ""
	return &out
}
