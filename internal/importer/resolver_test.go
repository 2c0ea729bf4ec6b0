package importer

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avangerus/kalita-import/internal/profile"
)

func (f *fixture) resolver(owner string) *Resolver {
	return &Resolver{Catalog: f.cat, Repo: f.repo, Targets: f.runner.Index.Snapshot(), Owner: f.cat[owner]}
}

func TestResolve_BelongsTo(t *testing.T) {
	f := newFixture(t)
	alice := f.seed(t, "core.User", map[string]any{"email": "alice@x.com"})
	r := f.resolver("core.Book")
	ctx := context.Background()

	cfg := AssociationConfig{Field: "author", TargetSpec: "User", LookupField: "email"}

	ref, err := r.Resolve(ctx, cfg, "alice@x.com")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, Ref{Entity: "core.User", ID: alice.ID}, *ref)

	// промах: не ошибка
	ref, err = r.Resolve(ctx, cfg, "bob@x.com")
	require.NoError(t, err)
	assert.Nil(t, ref)

	// значение не нормализуется
	ref, err = r.Resolve(ctx, cfg, "ALICE@x.com")
	require.NoError(t, err)
	assert.Nil(t, ref)

	ref, err = r.Resolve(ctx, cfg, "")
	require.NoError(t, err)
	assert.Nil(t, ref)

	// резолвер ничего не создаёт
	assert.Len(t, f.list(t, "core.User"), 1)
}

func TestResolve_ByID(t *testing.T) {
	f := newFixture(t)
	alice := f.seed(t, "core.User", map[string]any{"email": "alice@x.com"})
	r := f.resolver("core.Book")

	ref, err := r.Resolve(context.Background(), AssociationConfig{Field: "author", TargetSpec: "core.User.id"}, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, alice.ID, ref.ID)

	ref, err = r.Resolve(context.Background(), AssociationConfig{Field: "author", TargetSpec: "core.User.id"}, "missing")
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestResolve_FirstMatchWins(t *testing.T) {
	f := newFixture(t)
	first := f.seed(t, "core.Tag", map[string]any{"name": "drama"})
	f.seed(t, "core.Tag", map[string]any{"name": "drama"})

	ref, err := f.resolver("core.Book").Resolve(context.Background(), AssociationConfig{Field: "tag", TargetSpec: "tag.name"}, "drama")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, first.ID, ref.ID)
}

func TestResolve_Polymorphic(t *testing.T) {
	f := newFixture(t)
	photo := f.seed(t, "core.Photo", map[string]any{"title": "sunset"})
	f.seed(t, "core.Article", map[string]any{"title": "sunset"})
	r := f.resolver("core.Comment")

	cfg := AssociationConfig{Field: "commentable", TargetSpec: "photo.title", LookupField: "ignored", Polymorphic: true, Role: "commentable"}
	ref, err := r.Resolve(context.Background(), cfg, "sunset")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, Ref{Entity: "core.Photo", ID: photo.ID}, *ref)
}

func TestResolve_ConfigErrors(t *testing.T) {
	f := newFixture(t)
	cases := map[string]AssociationConfig{
		"no field":          {Field: "commentable", TargetSpec: "photo", Polymorphic: true, Role: "commentable"},
		"trailing dot":      {Field: "commentable", TargetSpec: "photo.", Polymorphic: true, Role: "commentable"},
		"unknown type":      {Field: "commentable", TargetSpec: "video.title", Polymorphic: true, Role: "commentable"},
		"role not declared": {Field: "commentable", TargetSpec: "user.email", Polymorphic: true, Role: "commentable"},
		"unknown lookup":    {Field: "commentable", TargetSpec: "photo.caption", Polymorphic: true, Role: "commentable"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.resolver("core.Comment").Resolve(context.Background(), cfg, "x")
			var ce *AssociationConfigError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, "commentable", ce.Field)
		})
	}

	// обычная ссылка: явный тип должен совпадать с целью из схемы
	_, err := f.resolver("core.Book").Resolve(context.Background(),
		AssociationConfig{Field: "author", TargetSpec: "tag.name", Declared: "User"}, "x")
	var ce *AssociationConfigError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Reason, "core.User")
}

func TestNewAssociationConfig(t *testing.T) {
	cat := testCatalog(t)
	book := Describe(cat["core.Book"], profile.Profile{})
	author, _ := book.Lookup("author")

	assert.Equal(t, AssociationConfig{Field: "author", TargetSpec: "User", LookupField: "email", Declared: "User"},
		NewAssociationConfig(author, " email "))
	assert.Equal(t, AssociationConfig{Field: "author", TargetSpec: "core.user.email", Declared: "User"},
		NewAssociationConfig(author, "core.user.email"))

	comment := Describe(cat["core.Comment"], profile.Profile{})
	commentable, _ := comment.Lookup("commentable")
	assert.Equal(t, AssociationConfig{Field: "commentable", TargetSpec: "photo.title", Polymorphic: true, Role: "commentable"},
		NewAssociationConfig(commentable, "photo.title"))
}
