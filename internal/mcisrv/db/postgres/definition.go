package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcistack/mci/internal/common/apperrors"
	"github.com/mcistack/mci/internal/mcisrv/db/dberror"
	"github.com/mcistack/mci/internal/mcisrv/db/models"
)

const definitionColumns = `id, type, enabled, name, description, digest, source_url,
	definition_object_key, configuration_object_key, secrets_object_key, created_at, updated_at`

func (s *Store) CreateDefinition(ctx context.Context, def *models.Definition) apperrors.Error {
	if err := def.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO definitions
			(id, type, enabled, name, description, digest, source_url,
			 definition_object_key, configuration_object_key, secrets_object_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING;
	`
	result, err := s.db.ExecContext(ctx, query,
		def.ID, def.Type, def.Enabled, def.Name, def.Description, def.Digest,
		nullable(def.SourceURL), def.DefinitionObjectKey,
		nullable(def.ConfigurationObjectKey), nullable(def.SecretsObjectKey))
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rowsAffected == 0 {
		return dberror.ErrAlreadyExists.New("definition already exists: " + def.ID)
	}
	return nil
}

func (s *Store) UpdateDefinition(ctx context.Context, def *models.Definition, expectedDigest string, superseded []string) apperrors.Error {
	if err := def.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	defer tx.Rollback()

	var currentDigest string
	err = tx.QueryRowContext(ctx,
		`SELECT digest FROM definitions WHERE id = $1 FOR UPDATE`, def.ID).Scan(&currentDigest)
	if err != nil {
		if err == sql.ErrNoRows {
			return dberror.ErrNotFound.New("definition not found: " + def.ID)
		}
		return dberror.ErrDatabase.Err(err)
	}
	if expectedDigest != "" && currentDigest != expectedDigest {
		return dberror.ErrConflict.New("definition changed since read: " + def.ID)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE definitions SET
			type = $2, enabled = $3, name = $4, description = $5, digest = $6,
			source_url = $7, definition_object_key = $8,
			configuration_object_key = $9, secrets_object_key = $10,
			updated_at = now()
		WHERE id = $1`,
		def.ID, def.Type, def.Enabled, def.Name, def.Description, def.Digest,
		nullable(def.SourceURL), def.DefinitionObjectKey,
		nullable(def.ConfigurationObjectKey), nullable(def.SecretsObjectKey))
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}

	if err := insertHistory(ctx, tx, def.ID, superseded, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) GetDefinition(ctx context.Context, id string) (*models.Definition, apperrors.Error) {
	if id == "" {
		return nil, dberror.ErrInvalidInput.New("id cannot be empty")
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+definitionColumns+` FROM definitions WHERE id = $1`, id)
	def, err := scanDefinition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.New("definition not found: " + id)
		}
		return nil, dberror.ErrDatabase.Err(err)
	}
	return def, nil
}

func (s *Store) ListDefinitions(ctx context.Context, filter *models.DefinitionFilter) ([]*models.Definition, apperrors.Error) {
	if filter == nil {
		filter = &models.DefinitionFilter{}
	}
	query := `SELECT ` + definitionColumns + ` FROM definitions`
	var conds []string
	var args []any

	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		n := fmt.Sprintf("$%d", len(args))
		conds = append(conds, "(id ILIKE "+n+" OR name ILIKE "+n+" OR description ILIKE "+n+")")
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		conds = append(conds, fmt.Sprintf("enabled = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += orderClause(filter)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var defs []*models.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return defs, nil
}

func (s *Store) SetDefinitionEnabled(ctx context.Context, id string, enabled bool) apperrors.Error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE definitions SET enabled = $2, updated_at = now() WHERE id = $1`, id, enabled)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rowsAffected == 0 {
		return dberror.ErrNotFound.New("definition not found: " + id)
	}
	return nil
}

func (s *Store) DeleteDefinition(ctx context.Context, id string) apperrors.Error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+definitionColumns+` FROM definitions WHERE id = $1 FOR UPDATE`, id)
	def, err := scanDefinition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return dberror.ErrNotFound.New("definition not found: " + id)
		}
		return dberror.ErrDatabase.Err(err)
	}

	if err := insertHistory(ctx, tx, id, def.ObjectKeys(), time.Now().UTC()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM definitions WHERE id = $1`, id); err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if err := tx.Commit(); err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	log.Ctx(ctx).Debug().Str("id", id).Msg("definition deleted, blobs scheduled for reclamation")
	return nil
}

func (s *Store) ListReferencedKeys(ctx context.Context, since time.Time) ([]string, apperrors.Error) {
	query := `
		SELECT definition_object_key FROM definitions
		UNION
		SELECT configuration_object_key FROM definitions WHERE configuration_object_key IS NOT NULL
		UNION
		SELECT secrets_object_key FROM definitions WHERE secrets_object_key IS NOT NULL
		UNION
		SELECT object_key FROM definition_blob_history WHERE superseded_at >= $1
	`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return keys, nil
}

func (s *Store) PruneBlobHistory(ctx context.Context, before time.Time) (int64, apperrors.Error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM definition_blob_history WHERE superseded_at < $1`, before)
	if err != nil {
		return 0, dberror.ErrDatabase.Err(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, dberror.ErrDatabase.Err(err)
	}
	return rowsAffected, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, id string, keys []string, at time.Time) apperrors.Error {
	for _, key := range keys {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO definition_blob_history (definition_id, object_key, superseded_at)
			 VALUES ($1, $2, $3)`, id, key, at)
		if err != nil {
			return dberror.ErrDatabase.Err(err)
		}
	}
	return nil
}

func orderClause(filter *models.DefinitionFilter) string {
	col := "name"
	switch filter.SortBy {
	case models.SortByID:
		col = "id"
	case models.SortByType:
		col = "type"
	}
	dir := "ASC"
	if filter.Descending {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id ASC", col, dir)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.Definition, error) {
	var def models.Definition
	var sourceURL, configKey, secretsKey sql.NullString
	err := row.Scan(&def.ID, &def.Type, &def.Enabled, &def.Name, &def.Description,
		&def.Digest, &sourceURL, &def.DefinitionObjectKey, &configKey, &secretsKey,
		&def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}
	def.SourceURL = sourceURL.String
	def.ConfigurationObjectKey = configKey.String
	def.SecretsObjectKey = secretsKey.String
	return &def, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
