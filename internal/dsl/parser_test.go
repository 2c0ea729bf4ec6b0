package dsl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const librarySchema = `
module core

# авторы
entity User:
  email: string required unique
  role: enum[Admin, Reader] default=Reader

entity Book:
  name: string required
  author: ref[User] on_delete=restrict
  tags: array[ref[Tag]]
  labels: array[string]
  cover: file
  scan: ref[core.Attachment]
  commentable: ref[*]
  constraints:
    unique(name, author)

entity Tag:
  name: string
`

func TestParse(t *testing.T) {
	ents, err := Parse(strings.NewReader(librarySchema))
	require.NoError(t, err)
	require.Len(t, ents, 3)

	user := ents[0]
	assert.Equal(t, "core.User", user.FQN())
	email, ok := user.Field("email")
	require.True(t, ok)
	assert.True(t, email.Flag("required"))
	assert.True(t, email.Flag("unique"))
	role, _ := user.Field("role")
	assert.Equal(t, "enum", role.Type)
	assert.Equal(t, []string{"Admin", "Reader"}, role.Enum)
	assert.Equal(t, "Reader", role.Option("default"))

	book := ents[1]
	assert.Equal(t, [][]string{{"name", "author"}}, book.Constraints.Unique)

	author, _ := book.Field("author")
	assert.True(t, author.IsRef())
	assert.False(t, author.IsPolymorphic())
	assert.Equal(t, "User", author.RefTarget)
	assert.Equal(t, "restrict", author.Option("on_delete"))

	tags, _ := book.Field("tags")
	assert.True(t, tags.IsRefArray())
	assert.Equal(t, "Tag", tags.RefTarget)

	labels, _ := book.Field("labels")
	assert.False(t, labels.IsRefArray())
	assert.Equal(t, "string", labels.ElemType)

	cover, _ := book.Field("cover")
	assert.True(t, cover.IsFile())
	scan, _ := book.Field("scan")
	assert.True(t, scan.IsFile())
	assert.False(t, scan.IsRef())

	commentable, _ := book.Field("commentable")
	assert.True(t, commentable.IsPolymorphic())

	_, ok = book.Field("nope")
	assert.False(t, ok)
}

func TestLoadAllEntities(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "core"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "core", "library.dsl"), []byte(librarySchema), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("entity Nope:"), 0o644))

	cat, err := LoadCatalog(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"core.Book", "core.Tag", "core.User"}, cat.Names())
}

func TestLoadAllEntities_Errors(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.dsl"), []byte("entity Orphan:\n  name: string\n"), 0o644))
	_, err := LoadAllEntities(root)
	assert.ErrorContains(t, err, "has no module")

	root = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.dsl"), []byte("module x\nentity A:\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.dsl"), []byte("module x\nentity A:\n"), 0o644))
	_, err = LoadAllEntities(root)
	assert.ErrorContains(t, err, "duplicate entity")
}

func TestParse_GrammarErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		line int
		msg  string
	}{
		{"as on single ref", "entity A:\n  owner: ref[User] as=owned\n", 2, "option as= is only valid"},
		{"polymorphic on collection", "entity A:\n  name: string\n  items: array[ref[B]] polymorphic\n", 3, "option polymorphic is only valid"},
		{"polymorphic array", "entity A:\n  items: array[ref[*]]\n", 2, "array[ref[*]] is not supported"},
		{"unknown type", "entity A:\n  size: bigint\n", 2, `unknown type "bigint"`},
		{"unknown element", "entity A:\n  files: array[file]\n", 2, "unknown array element type"},
		{"unique file", "entity A:\n  cover: file unique\n", 2, "file fields cannot be unique"},
		{"duplicate field", "entity A:\n  name: string\n  name: text\n", 3, "duplicate field"},
		{"unknown unique member", "entity A:\n  name: string\n  constraints:\n    unique(name, code)\n", 3, `unknown field "code"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader("module core\n" + tc.src))
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.line+1, perr.Line)
			assert.Contains(t, perr.Msg, tc.msg)
		})
	}
}

func TestParse_OptionsAndPolymorphicFlag(t *testing.T) {
	ents, err := Parse(strings.NewReader(`module core
entity Comment:
  title: string default='no title', required  # комментарий
  subject: ref[Photo] polymorphic
  photos: array[ref[Photo]] as=commentable
`))
	require.NoError(t, err)
	c := ents[0]

	title, _ := c.Field("title")
	assert.Equal(t, map[string]string{"default": "no title", "required": "true"}, title.Options)

	subject, _ := c.Field("subject")
	assert.True(t, subject.IsPolymorphic())

	photos, _ := c.Field("photos")
	assert.Equal(t, "commentable", photos.Option("as"))
}
