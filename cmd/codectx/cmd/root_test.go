package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codectx/codectx/internal/config"
	"github.com/codectx/codectx/internal/corpus"
	"github.com/codectx/codectx/internal/guard"
	"github.com/codectx/codectx/internal/unit"
)

// runCLI executes the root command with the given args and returns combined
// output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// setupCorpus writes extractor records into a temp index dir and points the
// CLI at it through the environment, with the offline static embedder.
func setupCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	units := []*unit.Unit{
		{
			Identifier: "Billing::Invoice",
			Type:       unit.TypeModel,
			FilePath:   "app/models/billing/invoice.rb",
			SourceCode: "class Invoice < ApplicationRecord\n  validates :amount, presence: true\nend",
		},
		{
			Identifier: "Billing::SettlementService",
			Type:       unit.TypeService,
			FilePath:   "app/services/billing/settlement_service.rb",
			SourceCode: "class SettlementService\n  def settle(invoice)\n    invoice.update!(settled: true)\n  end\nend",
		},
	}
	for _, u := range units {
		u.Fingerprint()
	}
	require.NoError(t, corpus.NewWriter(dir).Write(units))

	t.Setenv(config.EnvIndexDir, dir)
	t.Setenv(config.EnvProvider, "static")
	t.Setenv(config.EnvVectorStore, "hnsw")
	return dir
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	out, err := runCLI(t)
	require.NoError(t, err)
	assert.Contains(t, out, "codectx")
	assert.Contains(t, out, "retrieve")
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "codectx")

	out, err = runCLI(t, "version", "--json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
}

func TestIndexAndRetrieve_EndToEnd(t *testing.T) {
	dir := setupCorpus(t)

	out, err := runCLI(t, "index")
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 2 of 2 units")
	assert.FileExists(t, filepath.Join(dir, vectorsFile))
	assert.FileExists(t, filepath.Join(dir, checkpointFile))

	out, err = runCLI(t, "retrieve", "how are invoices settled", "--format", "plain")
	require.NoError(t, err)
	assert.Contains(t, out, "settle")
}

func TestIndexCmd_SecondRunSkipsUnchanged(t *testing.T) {
	setupCorpus(t)

	_, err := runCLI(t, "index")
	require.NoError(t, err)

	out, err := runCLI(t, "index", "--incremental")
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 0 of 2 units")
	assert.Contains(t, out, "2 unchanged")
}

func TestRetrieveCmd_RejectsUnknownFormat(t *testing.T) {
	setupCorpus(t)

	_, err := runCLI(t, "retrieve", "anything", "--format", "confluence")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown formatter")
}

func TestRetrieveCmd_RejectsNegativeBudget(t *testing.T) {
	setupCorpus(t)

	_, err := runCLI(t, "retrieve", "anything", "--format", "plain", "--budget", "-5")
	require.Error(t, err)
}

func TestStatusCmd_JSON(t *testing.T) {
	setupCorpus(t)
	_, err := runCLI(t, "index")
	require.NoError(t, err)

	out, err := runCLI(t, "status", "--json")
	require.NoError(t, err)

	var status statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.NotNil(t, status.Corpus)
	assert.Equal(t, guard.StatusOK, status.Corpus.Status)
	assert.Equal(t, 2, status.Corpus.TotalUnits)
	assert.NotEmpty(t, status.Health)
}

func TestStatusCmd_ReportsGaps(t *testing.T) {
	dir := setupCorpus(t)

	fs := guard.NewFeedbackStore(filepath.Join(dir, feedbackFile))
	for i := 0; i < 2; i++ {
		require.NoError(t, fs.Append(guard.Feedback{
			Type:        guard.FeedbackGap,
			Query:       "how are refunds issued",
			MissingUnit: "RefundService",
		}))
	}

	out, err := runCLI(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "RefundService")
}

func TestStatusCmd_NotExtracted(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvIndexDir, dir)
	t.Setenv(config.EnvProvider, "static")

	out, err := runCLI(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, guard.StatusNotExtracted)
}
