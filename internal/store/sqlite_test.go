package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codectx/codectx/internal/unit"
)

func newTestMetadataStore(t *testing.T) *SQLiteMetadataStore {
	t.Helper()
	s, err := NewSQLiteMetadataStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testUnit(identifier string, typ unit.Type) *unit.Unit {
	u := &unit.Unit{
		Identifier: identifier,
		Type:       typ,
		FilePath:   "app/" + string(typ) + "s/example.rb",
		SourceCode: "class " + identifier + "\nend",
	}
	u.Fingerprint()
	return u
}

func TestSQLiteMetadataStore_UpsertAndGet(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	u := testUnit("User", unit.TypeModel)
	u.Metadata = map[string]string{"source": "app"}
	u.Dependencies = []unit.Dependency{{Target: "Account", Relationship: "belongs_to"}}
	require.NoError(t, s.Upsert(ctx, u))

	got, err := s.Get(ctx, "User")
	require.NoError(t, err)
	assert.Equal(t, "User", got.Identifier)
	assert.Equal(t, unit.TypeModel, got.Type)
	assert.Equal(t, u.SourceHash, got.SourceHash)
	assert.Equal(t, "app", got.Metadata["source"])
	require.Len(t, got.Dependencies, 1)
	assert.Equal(t, "Account", got.Dependencies[0].Target)
}

func TestSQLiteMetadataStore_GetCaseInsensitive(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, testUnit("User", unit.TypeModel)))

	got, err := s.Get(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, "User", got.Identifier)
}

func TestSQLiteMetadataStore_GetNamespaceTail(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, testUnit("Billing::Invoice", unit.TypeModel)))

	got, err := s.Get(ctx, "invoice")
	require.NoError(t, err)
	assert.Equal(t, "Billing::Invoice", got.Identifier)

	// Exact match outranks tail match.
	require.NoError(t, s.Upsert(ctx, testUnit("Invoice", unit.TypeModel)))
	got, err = s.Get(ctx, "Invoice")
	require.NoError(t, err)
	assert.Equal(t, "Invoice", got.Identifier)
}

func TestSQLiteMetadataStore_GetNotFound(t *testing.T) {
	s := newTestMetadataStore(t)
	_, err := s.Get(context.Background(), "Ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteMetadataStore_UpsertReplaces(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	u := testUnit("User", unit.TypeModel)
	require.NoError(t, s.Upsert(ctx, u))

	u.SourceCode = "class User\n  validates :email, presence: true\nend"
	u.Fingerprint()
	require.NoError(t, s.Upsert(ctx, u))

	got, err := s.Get(ctx, "User")
	require.NoError(t, err)
	assert.Contains(t, got.SourceCode, "validates :email")

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteMetadataStore_SearchSubstringRanking(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()
	for _, u := range []*unit.Unit{
		testUnit("User", unit.TypeModel),
		testUnit("UsersController", unit.TypeController),
		testUnit("AdminUser", unit.TypeModel),
		testUnit("Order", unit.TypeModel),
	} {
		require.NoError(t, s.Upsert(ctx, u))
	}

	got, err := s.SearchSubstring(ctx, "user", 10)
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, u := range got {
		ids[i] = u.Identifier
	}
	// Earliest match position first, ties broken by identifier.
	assert.Equal(t, []string{"User", "UsersController", "AdminUser"}, ids)
}

func TestSQLiteMetadataStore_SearchSubstringEscapesWildcards(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, testUnit("User", unit.TypeModel)))

	got, err := s.SearchSubstring(ctx, "%", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteMetadataStore_ByTypeAndCounts(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()
	for _, u := range []*unit.Unit{
		testUnit("User", unit.TypeModel),
		testUnit("Order", unit.TypeModel),
		testUnit("UsersController", unit.TypeController),
	} {
		require.NoError(t, s.Upsert(ctx, u))
	}

	models, err := s.ByType(ctx, unit.TypeModel, 10)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "Order", models[0].Identifier)
	assert.Equal(t, "User", models[1].Identifier)

	counts, err := s.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[unit.TypeModel])
	assert.Equal(t, 1, counts[unit.TypeController])
}

func TestSQLiteMetadataStore_Delete(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, testUnit("User", unit.TypeModel)))

	require.NoError(t, s.Delete(ctx, "User", "Ghost"))

	_, err := s.Get(ctx, "User")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteMetadataStore_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta", "units.db")
	s, err := NewSQLiteMetadataStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, testUnit("User", unit.TypeModel)))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteMetadataStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "User")
	require.NoError(t, err)
	assert.Equal(t, "User", got.Identifier)
}
