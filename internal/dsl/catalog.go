package dsl

import (
	"fmt"
	"sort"
	"strings"
)

// Catalog содержит все известные схемы, FQN ("module.Name") -> схема.
type Catalog map[string]*Entity

// NewCatalog собирает каталог из списка сущностей.
func NewCatalog(entities ...*Entity) Catalog {
	c := make(Catalog, len(entities))
	for _, e := range entities {
		c[e.FQN()] = e
	}
	return c
}

// LoadCatalog читает все *.dsl под root.
func LoadCatalog(root string) (Catalog, error) {
	m, err := LoadAllEntities(root)
	if err != nil {
		return nil, err
	}
	return Catalog(m), nil
}

// Names возвращает FQN в стабильном порядке.
func (c Catalog) Names() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NormalizeEntityName возвращает FQN ("module.name") по паре {module, entity}.
// Если module пустой, пытается найти уникальную сущность с таким именем среди всех модулей.
func (c Catalog) NormalizeEntityName(module, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	ml := strings.ToLower(strings.TrimSpace(module))
	nl := strings.ToLower(strings.TrimSpace(name))

	// 1) есть модуль, ищем точное/регистронезависимое совпадение FQN
	if ml != "" {
		if _, ok := c[module+"."+name]; ok {
			return module + "." + name, true
		}
		for fqn := range c {
			fm, fn := SplitFQN(fqn)
			if fm == "" {
				continue
			}
			if strings.ToLower(fm) == ml && strings.ToLower(fn) == nl {
				return fqn, true
			}
		}
		return "", false
	}

	// 2) модуля нет, ищем ИМЕННО ОДНО уникальное имя среди всех
	var found string
	for fqn := range c {
		fm, fn := SplitFQN(fqn)
		if fm == "" {
			continue
		}
		if strings.ToLower(fn) == nl {
			if found != "" { // неуникально
				return "", false
			}
			found = fqn
		}
	}
	return found, found != ""
}

// Resolve принимает "Book", "core.Book", "core.book" и возвращает FQN.
func (c Catalog) Resolve(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if i := strings.IndexByte(raw, '.'); i > 0 {
		return c.NormalizeEntityName(raw[:i], raw[i+1:])
	}
	return c.NormalizeEntityName("", raw)
}

// ResolveFrom: как Resolve, но имя без модуля сначала ищется в модуле владельца.
func (c Catalog) ResolveFrom(owner *Entity, raw string) (string, bool) {
	if owner != nil && !strings.Contains(raw, ".") {
		if fqn, ok := c.NormalizeEntityName(owner.Module, raw); ok {
			return fqn, true
		}
	}
	return c.Resolve(raw)
}

// SplitFQN("module.entity") -> ("module","entity")
func SplitFQN(fqn string) (string, string) {
	i := strings.IndexByte(fqn, '.')
	if i <= 0 || i >= len(fqn)-1 {
		return "", fqn
	}
	return fqn[:i], fqn[i+1:]
}

type SchemaIssue struct {
	Entity  string `json:"entity"` // FQN: module.Entity
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Lint проверяет базовые противоречия в DSL.
func (c Catalog) Lint() []SchemaIssue {
	var issues []SchemaIssue

	for _, fqn := range c.Names() {
		e := c[fqn]
		for _, f := range e.Fields {
			// валидность on_delete
			if od := strings.TrimSpace(strings.ToLower(f.Option("on_delete"))); od != "" {
				switch od {
				case "restrict", "set_null", "cascade":
				default:
					issues = append(issues, SchemaIssue{
						Entity:  fqn,
						Field:   f.Name,
						Code:    "on_delete_unknown",
						Message: fmt.Sprintf("unknown on_delete policy %q (allowed: restrict|set_null|cascade)", od),
					})
				}
			}

			if strings.EqualFold(f.Type, "ref") || f.IsRefArray() {
				if strings.TrimSpace(f.RefTarget) == "" {
					issues = append(issues, SchemaIssue{
						Entity:  fqn,
						Field:   f.Name,
						Code:    "ref_target_empty",
						Message: "ref field has empty RefTarget",
					})
				} else if f.RefTarget != "*" {
					if _, ok := c.ResolveFrom(e, f.RefTarget); !ok && !f.IsFile() {
						issues = append(issues, SchemaIssue{
							Entity:  fqn,
							Field:   f.Name,
							Code:    "ref_target_unknown",
							Message: fmt.Sprintf("ref target %q is not a known entity", f.RefTarget),
						})
					}
				}
			}

			// as=<role> имеет смысл только на стороне has_many
			if f.Option("as") != "" && !f.IsRefArray() {
				issues = append(issues, SchemaIssue{
					Entity:  fqn,
					Field:   f.Name,
					Code:    "as_on_non_collection",
					Message: "option as= is only valid on array[ref[...]] fields",
				})
			}
		}
	}
	return issues
}
