package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/codectx/codectx/internal/errors"
	"github.com/codectx/codectx/internal/unit"
)

func fixtureUnits() []*unit.Unit {
	return []*unit.Unit{
		{Identifier: "User", Type: unit.TypeModel, FilePath: "app/models/user.rb",
			SourceCode: "class User < ApplicationRecord\nend"},
		{Identifier: "Billing::Invoice", Type: unit.TypeModel, FilePath: "app/models/billing/invoice.rb",
			SourceCode: "class Billing::Invoice < ApplicationRecord\nend"},
		{Identifier: "OrdersController", Type: unit.TypeController, FilePath: "app/controllers/orders_controller.rb",
			SourceCode: "class OrdersController < ApplicationController\nend"},
	}
}

func TestWriteAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewWriter(dir).Write(fixtureUnits()))

	loader := NewLoader(dir, nil)

	manifest, err := loader.Manifest()
	require.NoError(t, err)
	assert.Equal(t, 3, manifest.TotalUnits)
	assert.Equal(t, 2, manifest.Counts["model"])
	assert.Equal(t, 1, manifest.Counts["controller"])
	assert.False(t, manifest.ExtractedAt.IsZero())

	units, err := loader.LoadAll()
	require.NoError(t, err)
	require.Len(t, units, 3)
	assert.Equal(t, "Billing::Invoice", units[0].Identifier, "sorted by identifier")
	assert.Equal(t, "OrdersController", units[1].Identifier)
	assert.Equal(t, "User", units[2].Identifier)
	for _, u := range units {
		assert.NotEmpty(t, u.SourceHash, "loader fingerprints each unit")
	}
}

func TestLoadType(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewWriter(dir).Write(fixtureUnits()))

	loader := NewLoader(dir, nil)
	models, err := loader.LoadType(unit.TypeModel)
	require.NoError(t, err)
	assert.Len(t, models, 2)

	jobs, err := loader.LoadType(unit.TypeJob)
	require.NoError(t, err)
	assert.Empty(t, jobs, "absent type directory is not an error")
}

func TestManifestMissing(t *testing.T) {
	loader := NewLoader(t.TempDir(), nil)

	_, err := loader.Manifest()
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeManifestMissing, cerrors.GetCode(err))
}

func TestLoadAllSkipsMalformedRecords(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewWriter(dir).Write(fixtureUnits()))

	// A record that does not parse and one with no identifier.
	modelsDir := filepath.Join(dir, "models")
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, "broken.json"), []byte("{nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, "anon.json"), []byte(`{"type":"model"}`), 0o644))

	// Drop the index so the loader scans the directory and sees them.
	require.NoError(t, os.Remove(filepath.Join(modelsDir, IndexFile)))

	units, err := NewLoader(dir, nil).LoadAll()
	require.NoError(t, err)
	assert.Len(t, units, 3, "malformed records are skipped, valid ones load")
}

func TestLoadWithoutIndexFallsBackToScan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewWriter(dir).Write(fixtureUnits()))
	require.NoError(t, os.Remove(filepath.Join(dir, "models", IndexFile)))

	units, err := NewLoader(dir, nil).LoadAll()
	require.NoError(t, err)
	assert.Len(t, units, 3)
}

func TestTypeDir(t *testing.T) {
	assert.Equal(t, "models", TypeDir(unit.TypeModel))
	assert.Equal(t, "controllers", TypeDir(unit.TypeController))
	assert.Equal(t, "ruby_classes", TypeDir(unit.TypeRubyClass))
	assert.Equal(t, "units", TypeDir(unit.TypeNone))
}

func TestSafeIdentifier(t *testing.T) {
	assert.Equal(t, "User", SafeIdentifier("User"))
	assert.Equal(t, "Billing_Invoice", SafeIdentifier("Billing::Invoice"))
	assert.Equal(t, "save_user", SafeIdentifier("save_user!"))
}
