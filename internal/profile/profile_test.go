package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "book.yaml"), []byte(`
entity: core.Book
label: title
excluded_fields: [internal_code, " Secret "]
line_item_limit: 50
logging: true
associations:
  author: email
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "core.User.yml"), []byte("label: email\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("skip"), 0o644))

	set, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, set, 2)

	book := set.For("core.Book")
	assert.Equal(t, "title", book.Label)
	assert.Equal(t, 50, book.LineItemLimit)
	require.NotNil(t, book.Logging)
	assert.True(t, *book.Logging)
	assert.Equal(t, "email", book.Associations["author"])
	assert.Equal(t, map[string]bool{"internal_code": true, "secret": true}, book.Excluded())

	assert.Equal(t, "email", set.For("CORE.USER").Label)
	assert.Equal(t, Profile{Entity: "core.Tag"}, set.For("core.Tag"))
	assert.True(t, set.AnyLogging())

	off := false
	assert.False(t, Set{"core.book": {Logging: &off}}.AnyLogging())
}

func TestLoadDir_MissingDirIsEmpty(t *testing.T) {
	set, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestLoadDir_Duplicate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("entity: core.Book\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("entity: CORE.book\n"), 0o644))
	_, err := LoadDir(dir)
	assert.ErrorContains(t, err, "duplicate import profile")
}
