package dsl

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var (
	entityRe           = regexp.MustCompile(`^entity\s+(\w+):`)
	fieldRe            = regexp.MustCompile(`^\s*([\w_]+):\s*([^\s#]+)(.*)$`)
	enumRe             = regexp.MustCompile(`^enum\[(.*)\]$`)
	refRe              = regexp.MustCompile(`^ref\[([A-Za-z0-9_.*]+)\]$`)
	arrayRe            = regexp.MustCompile(`^array\[(.+)\]$`)
	moduleRe           = regexp.MustCompile(`^\s*module\s+([A-Za-z0-9_.-]+)\s*$`)
	reConstraintsStart = regexp.MustCompile(`^\s*constraints\s*:\s*$`)
	reUniqueLine       = regexp.MustCompile(`^\s*unique\s*\(\s*([^)]+)\s*\)\s*$`)
)

// splitOptionTokens делит "k=v k2='v 2' pattern=^[A-Z0-9 _-]+$" на токены, не рвёт по пробелам внутри кавычек/скобок
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0 // внутри [ ... ] у регэкспа

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
			buf = append(buf, r)
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
			buf = append(buf, r)
		default:
			// разделитель: пробел И ТОЛЬКО если мы не в кавычках и не внутри [...]
			if (r == ' ' || r == '\t') && !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

// LoadEntities читает один .dsl файл.
func LoadEntities(path string) ([]*Entity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Parse(file)
}

// ParseError: ошибка грамматики с номером строки.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string { return fmt.Sprintf("line %d: %s", e.Line, e.Msg) }

// примитивные типы полей; всё прочее в DSL описывается enum/ref/array
var primitiveTypes = map[string]bool{
	"string": true, "text": true, "int": true, "float": true, "money": true,
	"bool": true, "date": true, "datetime": true, "file": true,
}

// parser держит состояние разбора одного потока.
type parser struct {
	entities      []*Entity
	current       *Entity
	module        string
	inConstraints bool
	constraintAt  map[*Entity]int // строка блока constraints для сообщений
}

// Parse разбирает DSL из потока.
func Parse(r io.Reader) ([]*Entity, error) {
	p := &parser{constraintAt: map[*Entity]int{}}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := p.line(lineNo, strings.TrimSpace(scanner.Text())); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := p.closeEntity(); err != nil {
		return nil, err
	}
	return p.entities, nil
}

func (p *parser) line(n int, line string) error {
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	if m := moduleRe.FindStringSubmatch(line); m != nil {
		p.module = m[1]
		p.inConstraints = false
		return nil
	}
	if m := entityRe.FindStringSubmatch(line); m != nil {
		if err := p.closeEntity(); err != nil {
			return err
		}
		p.current = &Entity{Name: m[1], Module: p.module}
		p.inConstraints = false
		return nil
	}
	if p.current == nil {
		// всё вне сущности игнорируем
		return nil
	}

	if reConstraintsStart.MatchString(line) {
		p.inConstraints = true
		p.constraintAt[p.current] = n
		return nil
	}
	if p.inConstraints {
		if m := reUniqueLine.FindStringSubmatch(line); m != nil {
			var set []string
			for _, part := range strings.Split(m[1], ",") {
				if part = strings.TrimSpace(part); part != "" {
					set = append(set, part)
				}
			}
			if len(set) > 0 {
				p.current.Constraints.Unique = append(p.current.Constraints.Unique, set)
			}
			return nil
		}
		// любая другая строка закрывает блок
		p.inConstraints = false
		return nil
	}

	m := fieldRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	f, err := parseField(m[1], m[2], m[3])
	if err != nil {
		return &ParseError{Line: n, Msg: fmt.Sprintf("%s.%s: %s", p.current.Name, m[1], err)}
	}
	if _, dup := p.current.Field(f.Name); dup {
		return &ParseError{Line: n, Msg: fmt.Sprintf("%s.%s: duplicate field", p.current.Name, f.Name)}
	}
	p.current.Fields = append(p.current.Fields, f)
	return nil
}

// closeEntity проверяет составные unique и добавляет сущность в результат.
func (p *parser) closeEntity() error {
	e := p.current
	if e == nil {
		return nil
	}
	p.current = nil
	for _, set := range e.Constraints.Unique {
		for _, name := range set {
			if _, ok := e.Field(name); !ok {
				return &ParseError{Line: p.constraintAt[e], Msg: fmt.Sprintf("%s: unique(%s) names unknown field %q", e.Name, strings.Join(set, ", "), name)}
			}
		}
	}
	p.entities = append(p.entities, e)
	return nil
}

// parseField: тип, опции и правила их сочетания.
func parseField(name, rawType, tail string) (Field, error) {
	// склейка оборванных типов со скобками: enum[a, b]
	if (strings.HasPrefix(rawType, "enum[") || strings.HasPrefix(rawType, "array[")) && !strings.Contains(rawType, "]") {
		if idx := strings.Index(tail, "]"); idx >= 0 {
			rawType += tail[:idx+1]
			tail = tail[idx+1:]
		}
	}

	f := Field{Name: name, Options: parseOptions(tail)}
	switch {
	case enumRe.MatchString(rawType):
		f.Type = "enum"
		f.Enum = enumValues(enumRe.FindStringSubmatch(rawType)[1])
	case refRe.MatchString(rawType):
		f.Type = "ref"
		f.RefTarget = strings.TrimSpace(refRe.FindStringSubmatch(rawType)[1])
	case arrayRe.MatchString(rawType):
		f.Type = "array"
		elem := strings.TrimSpace(arrayRe.FindStringSubmatch(rawType)[1])
		f.ElemType = strings.ToLower(elem)
		if em := enumRe.FindStringSubmatch(elem); em != nil {
			f.ElemType = "enum"
			f.Enum = enumValues(em[1])
		} else if rm := refRe.FindStringSubmatch(elem); rm != nil {
			f.ElemType = "ref"
			f.RefTarget = strings.TrimSpace(rm[1])
			if f.RefTarget == "*" {
				return f, errors.New("array[ref[*]] is not supported, declare the collection with as=<role> on each target")
			}
		} else if !primitiveTypes[f.ElemType] || f.ElemType == "file" {
			return f, errors.Errorf("unknown array element type %q", elem)
		}
	default:
		f.Type = strings.ToLower(rawType)
		if !primitiveTypes[f.Type] {
			return f, errors.Errorf("unknown type %q", rawType)
		}
	}

	if f.Option("as") != "" && !f.IsRefArray() {
		return f, errors.New("option as= is only valid on array[ref[...]] fields")
	}
	if f.Flag("polymorphic") && !strings.EqualFold(f.Type, "ref") {
		return f, errors.New("option polymorphic is only valid on ref[...] fields")
	}
	if f.IsFile() && f.Flag("unique") {
		return f, errors.New("file fields cannot be unique")
	}
	return f, nil
}

// parseOptions: "required default='a b' as=imageable" -> map; флаг без значения = "true".
func parseOptions(tail string) map[string]string {
	raw := strings.TrimSpace(tail)
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	if strings.HasPrefix(strings.ToLower(raw), "options:") {
		raw = strings.TrimSpace(raw[len("options:"):])
	}
	raw = strings.ReplaceAll(raw, ",", " ")

	opts := map[string]string{}
	for _, tok := range splitOptionTokens(raw) {
		k, v, hasValue := strings.Cut(strings.TrimSpace(tok), "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if !hasValue {
			opts[k] = "true"
			continue
		}
		v = strings.TrimSpace(v)
		if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
			v = v[1 : len(v)-1]
		}
		opts[k] = v
	}
	return opts
}

func enumValues(inside string) []string {
	var out []string
	for _, p := range strings.Split(inside, ",") {
		if s := strings.Trim(strings.TrimSpace(p), `"'`); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func LoadAllEntities(root string) (map[string]*Entity, error) {
	result := make(map[string]*Entity)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}

		ents, err := LoadEntities(path)
		if err != nil {
			return errors.Wrapf(err, "parse %s", path)
		}

		for _, e := range ents {
			if e == nil || e.Name == "" {
				return errors.Errorf("empty entity name in %s", path)
			}
			if e.Module == "" {
				return errors.Errorf("entity %q in %s has no module, add `module <name>` at the top", e.Name, path)
			}
			fqn := e.Module + "." + e.Name
			if _, exists := result[fqn]; exists {
				return errors.Errorf("duplicate entity %q in module %q (file: %s)", e.Name, e.Module, path)
			}
			result[fqn] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
