// Package sqlite implements the metadata store accessor over an
// embedded sqlite database (modernc.org/sqlite, cgo-free). Used for
// single-node deployments and as the backend for db-level tests.
// Timestamps are stored as integer unix nanoseconds so comparisons stay
// exact across drivers.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/mcistack/mci/internal/common/apperrors"
	"github.com/mcistack/mci/internal/mcisrv/db/dberror"
)

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS definitions (
	id                        TEXT PRIMARY KEY,
	type                      TEXT NOT NULL,
	enabled                   INTEGER NOT NULL DEFAULT 0,
	name                      TEXT NOT NULL,
	description               TEXT NOT NULL DEFAULT '',
	digest                    TEXT NOT NULL,
	source_url                TEXT,
	definition_object_key     TEXT NOT NULL,
	configuration_object_key  TEXT,
	secrets_object_key        TEXT,
	created_at                INTEGER NOT NULL,
	updated_at                INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS definition_blob_history (
	definition_id  TEXT NOT NULL,
	object_key     TEXT NOT NULL,
	superseded_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blob_history_superseded_at
	ON definition_blob_history (superseded_at);
`

// New opens the database and ensures the schema exists. A busy timeout
// is set so concurrent writers queue instead of failing immediately.
func New(ctx context.Context, dsn string) (*Store, apperrors.Error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to open db")
		return nil, dberror.ErrDatabase.Err(err)
	}
	// sqlite serializes writers; a single pooled connection avoids
	// SQLITE_BUSY churn under concurrent commits.
	sqlDB.SetMaxOpenConns(1)
	if _, err := sqlDB.ExecContext(ctx, `PRAGMA busy_timeout = 10000`); err != nil {
		sqlDB.Close()
		return nil, dberror.ErrDatabase.Err(err)
	}
	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to apply schema")
		sqlDB.Close()
		return nil, dberror.ErrDatabase.Err(err)
	}
	return &Store{db: sqlDB}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
