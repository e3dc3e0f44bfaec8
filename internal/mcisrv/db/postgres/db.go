// Package postgres implements the metadata store accessor over
// PostgreSQL via the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/rs/zerolog/log"

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
	enabled                   BOOLEAN NOT NULL DEFAULT FALSE,
	name                      TEXT NOT NULL,
	description               TEXT NOT NULL DEFAULT '',
	digest                    TEXT NOT NULL,
	source_url                TEXT,
	definition_object_key     TEXT NOT NULL,
	configuration_object_key  TEXT,
	secrets_object_key        TEXT,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS definition_blob_history (
	definition_id  TEXT NOT NULL,
	object_key     TEXT NOT NULL,
	superseded_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blob_history_superseded_at
	ON definition_blob_history (superseded_at);
`

// New opens the connection pool, verifies connectivity, and ensures the
// schema exists. The returned handle is process-wide and passed to each
// component; nothing reads it from ambient state.
func New(ctx context.Context, dsn string) (*Store, apperrors.Error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to open db")
		return nil, dberror.ErrDatabase.Err(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to ping db")
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
