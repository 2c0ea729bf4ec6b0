package importer

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/avangerus/kalita-import/internal/dsl"
	"github.com/avangerus/kalita-import/internal/profile"
	"github.com/avangerus/kalita-import/internal/store"
)

const testSchema = `
module core

entity User:
  email: string required unique
  name: string

entity Tag:
  name: string required

entity Photo:
  title: string required
  comments: array[ref[Comment]] as=commentable

entity Article:
  title: string required
  comments: array[ref[Comment]] as=commentable

entity Comment:
  body: string required
  commentable: ref[*]

entity Book:
  name: string required
  isbn: string unique
  pages: int
  author: ref[User]
  tags: array[ref[Tag]]
  cover: file
  internal_code: string
`

func testCatalog(t *testing.T) dsl.Catalog {
	t.Helper()
	ents, err := dsl.Parse(strings.NewReader(testSchema))
	require.NoError(t, err)
	return dsl.NewCatalog(ents...)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fixture struct {
	cat    dsl.Catalog
	repo   *store.MemStore
	runner *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat := testCatalog(t)
	repo := store.NewMemStore()
	ix := NewPolymorphicIndex()
	ix.Build(cat)
	return &fixture{
		cat:  cat,
		repo: repo,
		runner: &Runner{
			Catalog:       cat,
			Repo:          repo,
			Profiles:      profile.Set{},
			Index:         ix,
			LineItemLimit: 1000,
			Log:           quietLogger(),
		},
	}
}

// seed сохраняет запись в обход импорта.
func (f *fixture) seed(t *testing.T, entity string, data map[string]any) *store.Record {
	t.Helper()
	rec := store.NewRecord(data)
	require.NoError(t, f.repo.Save(context.Background(), entity, rec))
	return rec
}

func (f *fixture) list(t *testing.T, entity string) []*store.Record {
	t.Helper()
	recs, err := f.repo.List(context.Background(), entity)
	require.NoError(t, err)
	return recs
}

func (f *fixture) run(t *testing.T, body string, opts Options) (*Report, error) {
	t.Helper()
	if opts.Entity == "" {
		opts.Entity = "core.Book"
	}
	return f.runner.Run(context.Background(), &Upload{Name: "upload.csv", Data: []byte(body)}, opts)
}
