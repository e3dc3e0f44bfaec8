package db

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcistack/mci/internal/mcisrv/blob"
	"github.com/mcistack/mci/internal/mcisrv/db/dberror"
	"github.com/mcistack/mci/internal/mcisrv/db/models"
	"github.com/mcistack/mci/internal/mcisrv/digest"
)

func newTestDB(t *testing.T) MetadataManager {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "mci.db")
	mm, err := New(context.Background(), "sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { mm.Close() })
	return mm
}

func testDefinition(id string) *models.Definition {
	d := digest.Compute([]byte("payload-for-" + id))
	return &models.Definition{
		ID:                  id,
		Type:                "prompt",
		Name:                "Definition " + id,
		Description:         "test definition",
		Digest:              d,
		DefinitionObjectKey: blob.KeyForDigest(blob.NamespaceDefinitions, d),
	}
}

func TestCreateAndGetDefinition(t *testing.T) {
	ctx := context.Background()
	mm := newTestDB(t)

	def := testDefinition("alpha")
	def.SourceURL = "https://example.com/alpha.json"
	require.NoError(t, mm.CreateDefinition(ctx, def))

	got, err := mm.GetDefinition(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)
	assert.Equal(t, def.Type, got.Type)
	assert.Equal(t, def.Digest, got.Digest)
	assert.Equal(t, def.SourceURL, got.SourceURL)
	assert.Equal(t, def.DefinitionObjectKey, got.DefinitionObjectKey)
	assert.False(t, got.Enabled)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestCreateDefinitionDuplicate(t *testing.T) {
	ctx := context.Background()
	mm := newTestDB(t)

	require.NoError(t, mm.CreateDefinition(ctx, testDefinition("alpha")))
	err := mm.CreateDefinition(ctx, testDefinition("alpha"))
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrAlreadyExists)
}

func TestCreateDefinitionInvalid(t *testing.T) {
	ctx := context.Background()
	mm := newTestDB(t)

	def := testDefinition("alpha")
	def.Digest = "not-a-digest"
	err := mm.CreateDefinition(ctx, def)
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)

	def = testDefinition("bad id with spaces")
	err = mm.CreateDefinition(ctx, def)
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)
}

func TestGetDefinitionNotFound(t *testing.T) {
	ctx := context.Background()
	mm := newTestDB(t)

	_, err := mm.GetDefinition(ctx, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestUpdateDefinition(t *testing.T) {
	ctx := context.Background()
	mm := newTestDB(t)

	def := testDefinition("alpha")
	require.NoError(t, mm.CreateDefinition(ctx, def))
	oldKey := def.DefinitionObjectKey

	newDigest := digest.Compute([]byte("new content"))
	updated := testDefinition("alpha")
	updated.Digest = newDigest
	updated.DefinitionObjectKey = blob.KeyForDigest(blob.NamespaceDefinitions, newDigest)
	updated.Description = "updated"
	require.NoError(t, mm.UpdateDefinition(ctx, updated, def.Digest, []string{oldKey}))

	got, err := mm.GetDefinition(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, newDigest, got.Digest)
	assert.Equal(t, "updated", got.Description)

	// superseded key stays referenced through the history table
	keys, err := mm.ListReferencedKeys(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Contains(t, keys, oldKey)
	assert.Contains(t, keys, updated.DefinitionObjectKey)
}

func TestUpdateDefinitionStaleDigest(t *testing.T) {
	ctx := context.Background()
	mm := newTestDB(t)

	def := testDefinition("alpha")
	require.NoError(t, mm.CreateDefinition(ctx, def))

	updated := testDefinition("alpha")
	updated.Description = "should not land"
	stale := digest.Compute([]byte("some other content"))
	err := mm.UpdateDefinition(ctx, updated, stale, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrConflict)

	got, gerr := mm.GetDefinition(ctx, "alpha")
	require.NoError(t, gerr)
	assert.Equal(t, "test definition", got.Description)
}

func TestUpdateDefinitionNotFound(t *testing.T) {
	ctx := context.Background()
	mm := newTestDB(t)

	err := mm.UpdateDefinition(ctx, testDefinition("missing"), "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestListDefinitionsFilters(t *testing.T) {
	ctx := context.Background()
	mm := newTestDB(t)

	for i, typ := range []string{"prompt", "prompt", "tool", "resource"} {
		def := testDefinition(fmt.Sprintf("def-%d", i))
		def.Type = typ
		def.Name = fmt.Sprintf("Definition %d", i)
		require.NoError(t, mm.CreateDefinition(ctx, def))
	}
	require.NoError(t, mm.SetDefinitionEnabled(ctx, "def-0", true))
	require.NoError(t, mm.SetDefinitionEnabled(ctx, "def-2", true))

	all, err := mm.ListDefinitions(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	byType, err := mm.ListDefinitions(ctx, &models.DefinitionFilter{Type: "prompt"})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	enabled := true
	byEnabled, err := mm.ListDefinitions(ctx, &models.DefinitionFilter{Enabled: &enabled})
	require.NoError(t, err)
	assert.Len(t, byEnabled, 2)

	byQuery, err := mm.ListDefinitions(ctx, &models.DefinitionFilter{Query: "def-3"})
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	assert.Equal(t, "def-3", byQuery[0].ID)

	none, err := mm.ListDefinitions(ctx, &models.DefinitionFilter{Query: "nomatch"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListDefinitionsOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	mm := newTestDB(t)

	names := map[string]string{"def-a": "Charlie", "def-b": "Alpha", "def-c": "Bravo"}
	for id, name := range names {
		def := testDefinition(id)
		def.Name = name
		require.NoError(t, mm.CreateDefinition(ctx, def))
	}

	byName, err := mm.ListDefinitions(ctx, &models.DefinitionFilter{})
	require.NoError(t, err)
	require.Len(t, byName, 3)
	assert.Equal(t, "Alpha", byName[0].Name)
	assert.Equal(t, "Bravo", byName[1].Name)
	assert.Equal(t, "Charlie", byName[2].Name)

	byIDDesc, err := mm.ListDefinitions(ctx, &models.DefinitionFilter{SortBy: models.SortByID, Descending: true})
	require.NoError(t, err)
	require.Len(t, byIDDesc, 3)
	assert.Equal(t, "def-c", byIDDesc[0].ID)

	page, err := mm.ListDefinitions(ctx, &models.DefinitionFilter{SortBy: models.SortByID, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "def-b", page[0].ID)

	offsetOnly, err := mm.ListDefinitions(ctx, &models.DefinitionFilter{SortBy: models.SortByID, Offset: 2})
	require.NoError(t, err)
	require.Len(t, offsetOnly, 1)
	assert.Equal(t, "def-c", offsetOnly[0].ID)
}

func TestSetDefinitionEnabled(t *testing.T) {
	ctx := context.Background()
	mm := newTestDB(t)

	require.NoError(t, mm.CreateDefinition(ctx, testDefinition("alpha")))
	require.NoError(t, mm.SetDefinitionEnabled(ctx, "alpha", true))

	got, err := mm.GetDefinition(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, got.Enabled)

	require.NoError(t, mm.SetDefinitionEnabled(ctx, "alpha", false))
	got, err = mm.GetDefinition(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	err = mm.SetDefinitionEnabled(ctx, "missing", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestDeleteDefinitionRecordsHistory(t *testing.T) {
	ctx := context.Background()
	mm := newTestDB(t)

	def := testDefinition("alpha")
	secretDigest := digest.Compute([]byte("secret bytes"))
	def.SecretsObjectKey = blob.KeyForDigest(blob.NamespaceSecrets, secretDigest)
	require.NoError(t, mm.CreateDefinition(ctx, def))
	require.NoError(t, mm.DeleteDefinition(ctx, "alpha"))

	_, err := mm.GetDefinition(ctx, "alpha")
	assert.ErrorIs(t, err, dberror.ErrNotFound)

	// deleted keys stay referenced until the grace window passes
	keys, lerr := mm.ListReferencedKeys(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, lerr)
	assert.Contains(t, keys, def.DefinitionObjectKey)
	assert.Contains(t, keys, def.SecretsObjectKey)

	err = mm.DeleteDefinition(ctx, "alpha")
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestListReferencedKeysCutoff(t *testing.T) {
	ctx := context.Background()
	mm := newTestDB(t)

	def := testDefinition("alpha")
	require.NoError(t, mm.CreateDefinition(ctx, def))
	require.NoError(t, mm.DeleteDefinition(ctx, "alpha"))

	recent, err := mm.ListReferencedKeys(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Contains(t, recent, def.DefinitionObjectKey)

	// with a future cutoff the history row falls out of the set
	future, err := mm.ListReferencedKeys(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.NotContains(t, future, def.DefinitionObjectKey)
}

func TestPruneBlobHistory(t *testing.T) {
	ctx := context.Background()
	mm := newTestDB(t)

	def := testDefinition("alpha")
	require.NoError(t, mm.CreateDefinition(ctx, def))
	require.NoError(t, mm.DeleteDefinition(ctx, "alpha"))

	pruned, err := mm.PruneBlobHistory(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, pruned)

	pruned, err = mm.PruneBlobHistory(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), "oracle", "dsn")
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)
}
