package store

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/avangerus/kalita-import/internal/dsl"
)

// Коды ошибок, которыми будем пользоваться
const (
	ErrRequired        = "required"
	ErrTypeMismatch    = "type_mismatch"
	ErrEnumInvalid     = "enum_invalid"
	ErrUniqueViolation = "unique_violation"
	ErrRefNotFound     = "ref_not_found"
	ErrImport          = "import_error"
)

// Validator проверяет запись против схемы.
type Validator struct {
	Catalog dsl.Catalog
	Repo    Repository
}

// Validate валидирует и НОРМАЛИЗУЕТ rec.Data под схему.
// Ошибка возвращается только при сбое хранилища.
func (v *Validator) Validate(ctx context.Context, schema *dsl.Entity, rec *Record) ([]FieldError, error) {
	var errs []FieldError
	obj := rec.Data
	entityKey := schema.FQN()

	// пустая строка из CSV для нестроковых полей == значения нет
	for _, f := range schema.Fields {
		if s, ok := obj[f.Name].(string); ok && s == "" && !strings.EqualFold(f.Type, "string") {
			delete(obj, f.Name)
		}
	}

	// 1) required
	for _, f := range schema.Fields {
		if !f.Flag("required") {
			continue
		}
		val, ok := obj[f.Name]
		if !ok || val == nil || val == "" || (f.IsRefArray() && len(IDs(val)) == 0) {
			errs = append(errs, ferr(ErrRequired, f.Name, fmt.Sprintf("%s can't be blank", humanize(f.Name))))
		}
	}

	// 2) типы и нормализация (ссылки и файлы, ниже / не трогаем)
	for _, f := range schema.Fields {
		val, ok := obj[f.Name]
		if !ok || val == nil {
			continue
		}
		if f.IsRef() || f.IsRefArray() || f.IsFile() {
			continue
		}
		norm, err := coerceValue(f, val)
		if err != nil {
			errs = append(errs, ferr(ErrTypeMismatch, f.Name, fmt.Sprintf("%s %s", humanize(f.Name), err.Error())))
			continue
		}
		obj[f.Name] = norm
	}

	// 3) unique
	for _, f := range schema.Fields {
		if !f.Flag("unique") {
			continue
		}
		val, ok := obj[f.Name]
		if !ok || val == nil {
			continue
		}
		n, err := v.Repo.Count(ctx, entityKey, Match{f.Name: val}, rec.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "unique check %s.%s", entityKey, f.Name)
		}
		if n > 0 {
			errs = append(errs, ferr(ErrUniqueViolation, f.Name, fmt.Sprintf("%s has already been taken", humanize(f.Name))))
		}
	}

	// 3.1) composite unique (constraints.unique)
	for _, set := range schema.Constraints.Unique {
		if len(set) == 0 {
			continue
		}
		m := Match{}
		for _, name := range set {
			val, ok := obj[name]
			if !ok || val == nil {
				m = nil
				break
			}
			m[name] = val
		}
		if m == nil {
			continue
		}
		n, err := v.Repo.Count(ctx, entityKey, m, rec.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "composite unique check %s", entityKey)
		}
		if n > 0 {
			errs = append(errs, ferr(ErrUniqueViolation, set[0], fmt.Sprintf("Fields %v must be unique together", set)))
		}
	}

	// 4) ref, проверка существования ссылок (single и array)
	for _, f := range schema.Fields {
		if !f.IsRef() && !f.IsRefArray() {
			continue
		}
		val, ok := obj[f.Name]
		if !ok || val == nil {
			continue
		}
		target := f.RefTarget
		if f.IsPolymorphic() {
			target = stringify(obj[f.Name+"_type"])
		}
		targetFQN, ok := v.Catalog.ResolveFrom(schema, target)
		if !ok {
			errs = append(errs, ferr(ErrRefNotFound, f.Name, fmt.Sprintf("%s references unknown entity '%s'", humanize(f.Name), target)))
			continue
		}
		var ids []string
		if f.IsRef() {
			s, isStr := val.(string)
			if !isStr {
				errs = append(errs, ferr(ErrTypeMismatch, f.Name, fmt.Sprintf("%s must be an id", humanize(f.Name))))
				continue
			}
			ids = []string{s}
		} else {
			ids = IDs(val)
		}
		for _, id := range ids {
			if _, err := v.Repo.Get(ctx, targetFQN, id); err != nil {
				if errors.Is(err, ErrNotFound) {
					errs = append(errs, ferr(ErrRefNotFound, f.Name, "Referenced '"+targetFQN+"' not found"))
					break
				}
				return nil, errors.Wrapf(err, "ref check %s", targetFQN)
			}
		}
	}

	return errs, nil
}

var (
	dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`) // YYYY-MM-DD
)

func coerceValue(f dsl.Field, v interface{}) (interface{}, error) {
	switch strings.ToLower(f.Type) {
	case "string":
		return toStringStrict(v)
	case "int":
		return toIntStrict(v)
	case "float", "money":
		return toFloatStrict(v)
	case "bool":
		return toBoolStrict(v)
	case "date":
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		if !dateRe.MatchString(s) {
			return nil, errors.New("must match YYYY-MM-DD")
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return nil, errors.New("is an invalid date")
		}
		return s, nil
	case "datetime":
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		// тело загрузки приводится к нижнему регистру: 2024-01-02t10:00:00z
		t, err := time.Parse(time.RFC3339, strings.ToUpper(s))
		if err != nil {
			return nil, errors.New("must be RFC3339 datetime")
		}
		return t.UTC().Format(time.RFC3339), nil
	case "enum":
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		for _, ev := range f.Enum {
			if strings.EqualFold(s, ev) {
				return ev, nil
			}
		}
		return nil, fmt.Errorf("value '%s' is not allowed", s)
	case "array":
		arr, ok := v.([]interface{})
		if !ok {
			if s, isStr := v.(string); isStr {
				// позволим CSV для простоты: "a;b;c"
				parts := strings.Split(s, ";")
				tmp := make([]interface{}, 0, len(parts))
				for _, p := range parts {
					if p = strings.TrimSpace(p); p != "" {
						tmp = append(tmp, p)
					}
				}
				arr = tmp
			} else {
				return nil, errors.New("must be array")
			}
		}
		out := make([]interface{}, 0, len(arr))
		elemField := dsl.Field{Type: f.ElemType, Enum: f.Enum}
		for i, ev := range arr {
			norm, err := coerceValue(elemField, ev)
			if err != nil {
				return nil, fmt.Errorf("array element %d: %v", i, err)
			}
			out = append(out, norm)
		}
		return out, nil
	default:
		// неизвестный тип, оставим как есть
		return v, nil
	}
}

func toStringStrict(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errors.New("must be string")
}

func toIntStrict(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		// JSON числа приходят как float64, проверяем целостность
		if t != float64(int64(t)) {
			return 0, errors.New("must be integer")
		}
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, errors.New("must be integer")
		}
		return n, nil
	default:
		return 0, errors.New("must be integer")
	}
}

func toFloatStrict(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.New("must be float")
		}
		return f, nil
	default:
		return 0, errors.New("must be float")
	}
}

func toBoolStrict(v interface{}) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		default:
			return false, errors.New("must be boolean")
		}
	default:
		return false, errors.New("must be boolean")
	}
}

// humanize("author_email") -> "Author email"
func humanize(name string) string {
	s := strings.ReplaceAll(name, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ApplyDefaults применяет default= для отсутствующих полей (на создании).
func ApplyDefaults(schema *dsl.Entity, obj map[string]any) {
	for _, f := range schema.Fields {
		def, ok := f.Options["default"]
		if !ok {
			continue
		}
		if cur, exists := obj[f.Name]; exists && cur != "" && cur != nil {
			continue
		}
		// если дефолт некорректен, просто не подставляем
		if v, err := coerceValue(f, def); err == nil {
			obj[f.Name] = v
		}
	}
}
