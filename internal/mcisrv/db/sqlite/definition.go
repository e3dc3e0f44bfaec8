package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

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
	now := time.Now().UTC().UnixNano()
	query := `
		INSERT INTO definitions
			(id, type, enabled, name, description, digest, source_url,
			 definition_object_key, configuration_object_key, secrets_object_key,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING;
	`
	result, err := s.db.ExecContext(ctx, query,
		def.ID, def.Type, def.Enabled, def.Name, def.Description, def.Digest,
		nullable(def.SourceURL), def.DefinitionObjectKey,
		nullable(def.ConfigurationObjectKey), nullable(def.SecretsObjectKey),
		now, now)
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
		`SELECT digest FROM definitions WHERE id = ?`, def.ID).Scan(&currentDigest)
	if err != nil {
		if err == sql.ErrNoRows {
			return dberror.ErrNotFound.New("definition not found: " + def.ID)
		}
		return dberror.ErrDatabase.Err(err)
	}
	if expectedDigest != "" && currentDigest != expectedDigest {
		return dberror.ErrConflict.New("definition changed since read: " + def.ID)
	}

	// guard the write on the digest read in this transaction so a
	// racing commit surfaces as a conflict, not a lost update
	result, err := tx.ExecContext(ctx, `
		UPDATE definitions SET
			type = ?, enabled = ?, name = ?, description = ?, digest = ?,
			source_url = ?, definition_object_key = ?,
			configuration_object_key = ?, secrets_object_key = ?,
			updated_at = ?
		WHERE id = ? AND digest = ?`,
		def.Type, def.Enabled, def.Name, def.Description, def.Digest,
		nullable(def.SourceURL), def.DefinitionObjectKey,
		nullable(def.ConfigurationObjectKey), nullable(def.SecretsObjectKey),
		time.Now().UTC().UnixNano(), def.ID, currentDigest)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rowsAffected == 0 {
		return dberror.ErrConflict.New("definition changed since read: " + def.ID)
	}

	if aerr := insertHistory(ctx, tx, def.ID, superseded, time.Now().UTC()); aerr != nil {
		return aerr
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
		`SELECT `+definitionColumns+` FROM definitions WHERE id = ?`, id)
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
		pattern := "%" + filter.Query + "%"
		conds = append(conds, "(id LIKE ? OR name LIKE ? OR description LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Enabled != nil {
		conds = append(conds, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += orderClause(filter)
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, filter.Offset)
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
		`UPDATE definitions SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC().UnixNano(), id)
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
		`SELECT `+definitionColumns+` FROM definitions WHERE id = ?`, id)
	def, err := scanDefinition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return dberror.ErrNotFound.New("definition not found: " + id)
		}
		return dberror.ErrDatabase.Err(err)
	}

	if aerr := insertHistory(ctx, tx, id, def.ObjectKeys(), time.Now().UTC()); aerr != nil {
		return aerr
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM definitions WHERE id = ?`, id); err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if err := tx.Commit(); err != nil {
		return dberror.ErrDatabase.Err(err)
	}
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
		SELECT object_key FROM definition_blob_history WHERE superseded_at >= ?
	`
	rows, err := s.db.QueryContext(ctx, query, since.UTC().UnixNano())
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
		`DELETE FROM definition_blob_history WHERE superseded_at < ?`, before.UTC().UnixNano())
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
			 VALUES (?, ?, ?)`, id, key, at.UTC().UnixNano())
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
	return " ORDER BY " + col + " " + dir + ", id ASC"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.Definition, error) {
	var def models.Definition
	var sourceURL, configKey, secretsKey sql.NullString
	var createdAt, updatedAt int64
	err := row.Scan(&def.ID, &def.Type, &def.Enabled, &def.Name, &def.Description,
		&def.Digest, &sourceURL, &def.DefinitionObjectKey, &configKey, &secretsKey,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	def.SourceURL = sourceURL.String
	def.ConfigurationObjectKey = configKey.String
	def.SecretsObjectKey = secretsKey.String
	def.CreatedAt = time.Unix(0, createdAt).UTC()
	def.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &def, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
