package profile

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Profile: настройки импорта одной сущности.
type Profile struct {
	Entity         string   `yaml:"entity"`
	Label          string   `yaml:"label,omitempty"`
	ExcludedFields []string `yaml:"excluded_fields,omitempty"`
	LineItemLimit  int      `yaml:"line_item_limit,omitempty"`
	// nil: как в глобальной настройке
	Logging *bool `yaml:"logging,omitempty"`
	// поле ассоциации -> ключ резолвера ("email" или "photo.title")
	Associations map[string]string `yaml:"associations,omitempty"`
}

// Excluded: множество исключённых полей.
func (p Profile) Excluded() map[string]bool {
	out := make(map[string]bool, len(p.ExcludedFields))
	for _, f := range p.ExcludedFields {
		out[strings.ToLower(strings.TrimSpace(f))] = true
	}
	return out
}

// Set: профили по сущности (ключ в нижнем регистре).
type Set map[string]Profile

// For возвращает профиль сущности или пустой профиль.
func (s Set) For(fqn string) Profile {
	if p, ok := s[strings.ToLower(fqn)]; ok {
		return p
	}
	return Profile{Entity: fqn}
}

// AnyLogging: хотя бы один профиль явно включает журнал загрузок.
func (s Set) AnyLogging() bool {
	for _, p := range s {
		if p.Logging != nil && *p.Logging {
			return true
		}
	}
	return false
}

// LoadDir читает все *.yaml|*.yml из dir. Отсутствующая папка, пустой набор.
func LoadDir(dir string) (Set, error) {
	result := make(Set)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, errors.Wrapf(err, "read profiles dir %s", dir)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "read profile %s", name)
		}
		var p Profile
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, errors.Wrapf(err, "parse profile %s", name)
		}
		// Имя сущности, из entity или из имени файла
		if p.Entity == "" {
			p.Entity = strings.TrimSuffix(name, filepath.Ext(name))
		}
		key := strings.ToLower(p.Entity)
		if _, dup := result[key]; dup {
			return nil, errors.Errorf("duplicate import profile for %q (file: %s)", p.Entity, name)
		}
		result[key] = p
	}
	return result, nil
}
