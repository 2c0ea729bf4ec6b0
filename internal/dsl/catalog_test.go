package dsl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T, src string) Catalog {
	t.Helper()
	ents, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	return NewCatalog(ents...)
}

func TestCatalog_Resolve(t *testing.T) {
	cat := testCatalog(t, `
module core
entity User:
  email: string
entity Tag:
  name: string
module crm
entity Tag:
  name: string
entity Lead:
  owner: ref[User]
  tag: ref[Tag]
`)

	for raw, want := range map[string]string{
		"User":      "core.User",
		"user":      "core.User",
		"core.user": "core.User",
		"CRM.lead":  "crm.Lead",
	} {
		got, ok := cat.Resolve(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	// неуникальное короткое имя
	_, ok := cat.Resolve("Tag")
	assert.False(t, ok)
	_, ok = cat.Resolve("")
	assert.False(t, ok)
	_, ok = cat.Resolve("core.Lead")
	assert.False(t, ok)

	// модуль владельца имеет приоритет
	got, ok := cat.ResolveFrom(cat["crm.Lead"], "Tag")
	assert.True(t, ok)
	assert.Equal(t, "crm.Tag", got)
	got, ok = cat.ResolveFrom(cat["crm.Lead"], "User")
	assert.True(t, ok)
	assert.Equal(t, "core.User", got)
}

func TestSplitFQN(t *testing.T) {
	m, e := SplitFQN("core.Book")
	assert.Equal(t, "core", m)
	assert.Equal(t, "Book", e)
	m, e = SplitFQN("Book")
	assert.Equal(t, "", m)
	assert.Equal(t, "Book", e)
}

func TestCatalog_Lint(t *testing.T) {
	cat := testCatalog(t, `
module core
entity Photo:
  owner: ref[Ghost] on_delete=explode
  tags: array[ref[Tag]]
  imageable: ref[*]
  scan: ref[core.Attachment]
entity Tag:
  name: string
`)
	// парсер такое не пропустит, но каталог можно собрать и из кода
	photo := cat["core.Photo"]
	photo.Fields[2].Options["as"] = "pictures"
	codes := map[string]string{}
	for _, is := range cat.Lint() {
		codes[is.Field+":"+is.Code] = is.Message
	}
	assert.Contains(t, codes, "owner:on_delete_unknown")
	assert.Contains(t, codes, "owner:ref_target_unknown")
	assert.Contains(t, codes, "imageable:as_on_non_collection")
	assert.NotContains(t, codes, "tags:ref_target_unknown")
	assert.NotContains(t, codes, "scan:ref_target_unknown")
	assert.NotContains(t, codes, "imageable:ref_target_unknown")
}

func TestBundledSchemasLintClean(t *testing.T) {
	cat, err := LoadCatalog("../../dsl")
	require.NoError(t, err)
	assert.Contains(t, cat, "core.Book")
	assert.Empty(t, cat.Lint())
}
