package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docqa/internal/extractor/pdftest"
	"docqa/internal/services"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	color.NoColor = true
	dir := t.TempDir()

	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "docqa.db"))
	t.Setenv("VECTOR_INDEX", "memory")
	t.Setenv("EMBEDDING_PROVIDER", "local")
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	t.Setenv("GENERATION_PROVIDER", "ollama")
	// no model server needed: every question below has no relevant context
	t.Setenv("OLLAMA_HOST", "http://127.0.0.1:1")
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("CHUNK_OVERLAP", "0.1")
	t.Setenv("RETRIEVAL_MIN_SCORE", "0.2")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writePDF(t *testing.T, dir string) string {
	t.Helper()
	data := pdftest.New().
		Page(strings.Repeat("Orders ship within three days of payment and shipping is tracked online. ", 9)).
		Page(strings.Repeat("The warranty covers manufacturing defects for two years after delivery. ", 9)).
		Bytes()
	path := filepath.Join(dir, "handbook.pdf")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestCLI_IngestAskChatsRemove(t *testing.T) {
	dir := setupEnv(t)

	out, err := run(t, "ingest", writePDF(t, dir))
	require.NoError(t, err, out)
	assert.Contains(t, out, "ready")
	assert.Contains(t, out, "handbook.pdf")
	assert.Contains(t, out, "2 pages")
	id := strings.Fields(out)[0]
	require.Len(t, id, 27)

	out, err = run(t, "docs", "--json")
	require.NoError(t, err, out)
	var docs []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0]["id"])
	assert.Equal(t, "ready", docs[0]["status"])

	out, err = run(t, "ask", id, "What", "is", "the", "refund", "policy?")
	require.NoError(t, err, out)
	assert.Contains(t, out, services.InsufficientAnswer)
	assert.NotContains(t, out, "Sources:")

	out, err = run(t, "chats", id)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Q: What is the refund policy?")
	assert.Contains(t, out, "A: "+services.InsufficientAnswer)

	out, err = run(t, "rm", id)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Deleted "+id)

	out, err = run(t, "docs", "--json=false")
	require.NoError(t, err, out)
	assert.Contains(t, out, "No documents.")
}

func TestCLI_IngestRejectsNonPDF(t *testing.T) {
	dir := setupEnv(t)
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("just text"), 0o600))

	out, err := run(t, "ingest", path)
	require.Error(t, err)
	assert.Contains(t, out, "unreadable PDF")
}

func TestCLI_AskUnknownDocument(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "ask", "2VnTq9ocJ3cTwYLQ0kQ1Ntkhr1A", "anything?")
	require.Error(t, err)
	assert.Contains(t, out, "document not found")
}
