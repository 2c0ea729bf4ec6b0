package importer

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/avangerus/kalita-import/internal/dsl"
	"github.com/avangerus/kalita-import/internal/store"
)

// Ref: найденная запись-цель ассоциации.
type Ref struct {
	Entity string // FQN
	ID     string
}

// AssociationConfig: как искать цель ассоциации. Живёт один прогон.
//
// Для полиморфных ссылок (и когда LookupField пуст) TargetSpec, "<type>.<field>",
// делится по последней точке.
type AssociationConfig struct {
	Field       string
	TargetSpec  string
	LookupField string
	Polymorphic bool
	Role        string // роль полиморфной ссылки
	Declared    string // цель из схемы для обычной ссылки; пусто, не сверяем
}

// NewAssociationConfig разбирает ключ резолвера из запроса или профиля:
// "email": поле цели из схемы, "user.email", явный тип и поле.
func NewAssociationConfig(fd *FieldDescriptor, key string) AssociationConfig {
	key = strings.TrimSpace(key)
	cfg := AssociationConfig{Field: fd.Name}
	if fd.Field.IsPolymorphic() {
		cfg.Polymorphic = true
		cfg.Role = fd.Field.Name
		cfg.TargetSpec = key
		return cfg
	}
	cfg.Declared = fd.Field.RefTarget
	if strings.Contains(key, ".") {
		cfg.TargetSpec = key
		return cfg
	}
	cfg.TargetSpec = fd.Field.RefTarget
	cfg.LookupField = key
	return cfg
}

// Resolver ищет цели ассоциаций. Только чтение: цели никогда не создаются.
type Resolver struct {
	Catalog dsl.Catalog
	Repo    store.Repository
	Targets PolymorphicTargets
	Owner   *dsl.Entity // имена без модуля ищутся сначала в модуле владельца
}

// Target проверяет конфиг и возвращает FQN цели и поле поиска.
func (r *Resolver) Target(cfg AssociationConfig) (string, string, error) {
	typ, field := strings.TrimSpace(cfg.TargetSpec), strings.TrimSpace(cfg.LookupField)
	if cfg.Polymorphic || field == "" {
		i := strings.LastIndexByte(typ, '.')
		if i <= 0 || i == len(typ)-1 {
			return "", "", &AssociationConfigError{Field: cfg.Field, Spec: cfg.TargetSpec, Reason: "expected <type>.<field>"}
		}
		typ, field = typ[:i], typ[i+1:]
	}

	fqn, ok := r.Catalog.ResolveFrom(r.Owner, typ)
	if !ok {
		return "", "", &AssociationConfigError{Field: cfg.Field, Spec: cfg.TargetSpec, Reason: "unknown entity type " + typ}
	}
	if cfg.Polymorphic && !r.Targets.Has(cfg.Role, fqn) {
		return "", "", &AssociationConfigError{Field: cfg.Field, Spec: cfg.TargetSpec, Reason: fqn + " does not declare as=" + cfg.Role}
	}
	if !cfg.Polymorphic && cfg.Declared != "" {
		if want, ok := r.Catalog.ResolveFrom(r.Owner, cfg.Declared); ok && want != fqn {
			return "", "", &AssociationConfigError{Field: cfg.Field, Spec: cfg.TargetSpec, Reason: "expected target " + want}
		}
	}

	if strings.EqualFold(field, "id") {
		return fqn, "id", nil
	}
	for _, f := range r.Catalog[fqn].Fields {
		if strings.EqualFold(f.Name, field) {
			return fqn, f.Name, nil
		}
	}
	return "", "", &AssociationConfigError{Field: cfg.Field, Spec: cfg.TargetSpec, Reason: "unknown lookup field " + field + " on " + fqn}
}

// Resolve: первая запись цели, у которой поле поиска равно raw (точное совпадение).
// nil, nil, пустое значение или совпадений нет.
func (r *Resolver) Resolve(ctx context.Context, cfg AssociationConfig, raw string) (*Ref, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	fqn, field, err := r.Target(cfg)
	if err != nil {
		return nil, err
	}

	if field == "id" {
		rec, err := r.Repo.Get(ctx, fqn, store.CanonicalID(raw))
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "resolve %s by id", fqn)
		}
		return &Ref{Entity: fqn, ID: rec.ID}, nil
	}

	rec, err := r.Repo.FindFirst(ctx, fqn, store.Match{field: raw})
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s by %s", fqn, field)
	}
	if rec == nil {
		return nil, nil
	}
	return &Ref{Entity: fqn, ID: rec.ID}, nil
}
