// Package db defines the metadata store accessor for the definitions
// relation and its blob reference history. Two backends implement the
// accessor: PostgreSQL for production and embedded sqlite for
// single-node deployments and tests.
package db

import (
	"context"
	"time"

	"github.com/mcistack/mci/internal/common/apperrors"
	"github.com/mcistack/mci/internal/mcisrv/db/dberror"
	"github.com/mcistack/mci/internal/mcisrv/db/models"
	"github.com/mcistack/mci/internal/mcisrv/db/postgres"
	"github.com/mcistack/mci/internal/mcisrv/db/sqlite"
)

// MetadataManager is the transactional accessor over definition
// metadata. Mutations are atomic: a failed call leaves the relation
// untouched, and readers only ever observe committed rows.
type MetadataManager interface {
	// CreateDefinition inserts a new row. Fails with
	// dberror.ErrAlreadyExists when the id is taken.
	CreateDefinition(ctx context.Context, def *models.Definition) apperrors.Error

	// UpdateDefinition commits the full new field set for def.ID in one
	// transaction. When expectedDigest is non-empty the commit only
	// succeeds if the row's current digest still matches (optimistic
	// concurrency); otherwise it fails with dberror.ErrConflict.
	// superseded keys are recorded in the blob history inside the same
	// transaction.
	UpdateDefinition(ctx context.Context, def *models.Definition, expectedDigest string, superseded []string) apperrors.Error

	GetDefinition(ctx context.Context, id string) (*models.Definition, apperrors.Error)
	ListDefinitions(ctx context.Context, filter *models.DefinitionFilter) ([]*models.Definition, apperrors.Error)

	// SetDefinitionEnabled toggles the soft on/off gate without touching
	// content.
	SetDefinitionEnabled(ctx context.Context, id string, enabled bool) apperrors.Error

	// DeleteDefinition removes the row and records all its object keys
	// in the blob history in the same transaction, so the blobs stay
	// protected until the grace period elapses.
	DeleteDefinition(ctx context.Context, id string) apperrors.Error

	// ListReferencedKeys returns every object key referenced by a
	// current row plus keys superseded at or after since. This is the
	// garbage collector's reachability query.
	ListReferencedKeys(ctx context.Context, since time.Time) ([]string, apperrors.Error)

	// PruneBlobHistory drops history rows superseded before the cutoff
	// and returns the number removed.
	PruneBlobHistory(ctx context.Context, before time.Time) (int64, apperrors.Error)

	Close() error
}

// New opens the metadata store for the configured backend.
func New(ctx context.Context, dbtype, dsn string) (MetadataManager, apperrors.Error) {
	switch dbtype {
	case "postgres", "postgresql":
		m, err := postgres.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "sqlite":
		m, err := sqlite.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, dberror.ErrInvalidInput.New("unknown database type: " + dbtype)
}
