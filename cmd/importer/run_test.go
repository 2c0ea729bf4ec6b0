package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avangerus/kalita-import/internal/importer"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dslDir := filepath.Join(root, "dsl", "core")
	require.NoError(t, os.MkdirAll(dslDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dslDir, "library.dsl"), []byte(`module core
entity User:
  email: string required unique
entity Book:
  name: string required
  author: ref[User]
`), 0o644))

	t.Setenv("KALITA_DSL_DIR", filepath.Join(root, "dsl"))
	t.Setenv("KALITA_PROFILES_DIR", filepath.Join(root, "profiles"))
	t.Setenv("KALITA_BLOB_FILES_ROOT", filepath.Join(root, "uploads"))
	t.Setenv("KALITA_LOG_LEVEL", "error")
	return root
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", "missing.env"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_TextReport(t *testing.T) {
	root := setupEnv(t)
	file := filepath.Join(root, "books.csv")
	require.NoError(t, os.WriteFile(file, []byte("name,author\nDune,\n"), 0o644))

	out, err := execute(t, "run", "--entity", "Book", "--file", file, "--assoc", "author=email")
	require.NoError(t, err)
	assert.Equal(t, "Created: dune\n", out)
}

func TestRun_JSONAbort(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "run", "--entity", "core.Book", "--format", "json")
	var abortErr *importer.BatchAbortError
	require.ErrorAs(t, err, &abortErr)

	var rep importer.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, []string{"You must select a file."}, rep.Error)
}

func TestRun_BadAssoc(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "run", "--entity", "Book", "--assoc", "author")
	assert.ErrorContains(t, err, "want field=key")
}

func TestDescribe(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "describe", "book")
	require.NoError(t, err)
	assert.Contains(t, out, "entity:     core.Book")
	assert.Contains(t, out, "belongs_to: author")
}

func TestParseAssocs(t *testing.T) {
	got, err := parseAssocs([]string{"author=email", " commentable = photo.title "})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"author": "email", "commentable": "photo.title"}, got)
}
