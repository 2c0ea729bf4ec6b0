package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avangerus/kalita-import/internal/blob"
	"github.com/avangerus/kalita-import/internal/config"
	"github.com/avangerus/kalita-import/internal/store"
)

func writeTree(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	dslDir := filepath.Join(root, "dsl", "core")
	profDir := filepath.Join(root, "profiles")
	require.NoError(t, os.MkdirAll(dslDir, 0o755))
	require.NoError(t, os.MkdirAll(profDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dslDir, "library.dsl"), []byte(`module core
entity User:
  email: string required unique
entity Book:
  name: string required
  author: ref[User]
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(profDir, "book.yaml"), []byte("entity: core.Book\nlogging: true\n"), 0o644))

	return config.Config{
		DSLDir:      filepath.Join(root, "dsl"),
		ProfilesDir: profDir,
		LogLevel:    "debug",
		LogFormat:   "json",
		Blob:        config.BlobOptions{Driver: "local", FilesRoot: filepath.Join(root, "uploads")},
		Import: config.ImportOptions{
			LineItemLimit: 100,
			LogDir:        filepath.Join(root, "log"),
		},
	}
}

func TestNew_InMemory(t *testing.T) {
	cfg := writeTree(t)
	log, err := NewLogger(cfg, &bytes.Buffer{})
	require.NoError(t, err)

	a, err := New(context.Background(), cfg, log)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &store.MemStore{}, a.Runner.Repo)
	assert.IsType(t, &blob.LocalStore{}, a.Blobs)
	assert.Len(t, a.Runner.Catalog, 2)
	assert.Equal(t, 100, a.Runner.LineItemLimit)
	// профиль включает журнал, хотя глобально он выключен
	assert.NotNil(t, a.Runner.Audit)
	assert.DirExists(t, cfg.Blob.FilesRoot)
}

func TestNew_LintFailure(t *testing.T) {
	cfg := writeTree(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DSLDir, "core", "bad.dsl"),
		[]byte("module core\nentity Bad:\n  owner: ref[Ghost]\n"), 0o644))
	log, err := NewLogger(cfg, &bytes.Buffer{})
	require.NoError(t, err)

	_, err = New(context.Background(), cfg, log)
	assert.ErrorContains(t, err, "blocking issues")
}

func TestLoad_Overrides(t *testing.T) {
	cfg := writeTree(t)
	cat, profiles, err := Load(cfg)("", "")
	require.NoError(t, err)
	assert.Len(t, cat, 2)
	assert.Len(t, profiles, 1)

	_, profiles, err = Load(cfg)("", filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger(config.Config{LogLevel: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)
	_, err = NewLogger(config.Config{LogLevel: "info", LogFormat: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}
