package models

import (
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mcistack/mci/internal/common/apperrors"
	"github.com/mcistack/mci/internal/mcisrv/db/dberror"
	"github.com/mcistack/mci/internal/mcisrv/digest"
)

/*
	   Column                  |    Type     | Nullable | Default
	--------------------------+-------------+----------+---------
	 id                       | text        | not null | (pk)
	 type                     | text        | not null |
	 enabled                  | boolean     | not null | false
	 name                     | text        | not null |
	 description              | text        | not null | ''
	 digest                   | text        | not null |
	 source_url               | text        |          |
	 definition_object_key    | text        | not null |
	 configuration_object_key | text        |          |
	 secrets_object_key       | text        |          |
	 created_at               | timestamptz | not null | now()
	 updated_at               | timestamptz | not null | now()
*/

// Definition is one catalog entry. The digest column always matches the
// content stored at DefinitionObjectKey for any committed row; the
// accessor never exposes a row in any other state.
type Definition struct {
	ID                     string    `db:"id" json:"id" validate:"required,min=3,max=64,mci_id"`
	Type                   string    `db:"type" json:"type" validate:"required,min=3,max=64,mci_type"`
	Enabled                bool      `db:"enabled" json:"enabled"`
	Name                   string    `db:"name" json:"name" validate:"required,min=3,max=64"`
	Description            string    `db:"description" json:"description" validate:"max=300"`
	Digest                 string    `db:"digest" json:"digest" validate:"required,mci_digest"`
	SourceURL              string    `db:"source_url" json:"source_url,omitempty"`
	DefinitionObjectKey    string    `db:"definition_object_key" json:"definition_object_key" validate:"required"`
	ConfigurationObjectKey string    `db:"configuration_object_key" json:"configuration_object_key,omitempty"`
	SecretsObjectKey       string    `db:"secrets_object_key" json:"secrets_object_key,omitempty"`
	CreatedAt              time.Time `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time `db:"updated_at" json:"updated_at"`
}

// ObjectKeys returns every object key the row references.
func (d *Definition) ObjectKeys() []string {
	keys := []string{d.DefinitionObjectKey}
	if d.ConfigurationObjectKey != "" {
		keys = append(keys, d.ConfigurationObjectKey)
	}
	if d.SecretsObjectKey != "" {
		keys = append(keys, d.SecretsObjectKey)
	}
	return keys
}

type SortBy string

const (
	SortByName SortBy = "name"
	SortByID   SortBy = "id"
	SortByType SortBy = "type"
)

// DefinitionFilter narrows a listing. Query matches id, name, and
// description as a case-insensitive substring. Results default to name
// order per the registry contract.
type DefinitionFilter struct {
	Query      string
	Type       string
	Enabled    *bool
	SortBy     SortBy
	Descending bool
	Limit      int
	Offset     int
}

// The type tag is an open classification: any value matching the
// identifier shape is accepted, unknown values included.
var (
	idRegex   = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	typeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	must(validate.RegisterValidation("mci_id", func(fl validator.FieldLevel) bool {
		return idRegex.MatchString(fl.Field().String())
	}))
	must(validate.RegisterValidation("mci_type", func(fl validator.FieldLevel) bool {
		return typeRegex.MatchString(fl.Field().String())
	}))
	must(validate.RegisterValidation("mci_digest", func(fl validator.FieldLevel) bool {
		return digest.Validate(fl.Field().String()) == nil
	}))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Validate checks the row before it is written.
func (d *Definition) Validate() apperrors.Error {
	if err := validate.Struct(d); err != nil {
		return dberror.ErrInvalidInput.New(err.Error())
	}
	return nil
}
