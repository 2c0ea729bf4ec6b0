package importer

import (
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"
)

var (
	wsRe     = regexp.MustCompile(`\s+`)
	suffixRe = regexp.MustCompile(`^(.+?)_\d+$`) // tag_2, tag_3
)

// ColumnMap: имя поля -> позиция колонки (Single) или позиции по порядку (Multi, коллекции).
type ColumnMap struct {
	Single map[string]int   `json:"single"`
	Multi  map[string][]int `json:"multi"`
}

// NormalizeHeader: "  Author  Email " -> "author_email".
func NormalizeHeader(cell string) string {
	return wsRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(cell)), "_")
}

// BuildColumnMap сопоставляет заголовок полям. Несколько колонок одной коллекции
// (tag, tag 2, Tags) собираются в список в порядке следования.
func BuildColumnMap(header []string, collections []string) (ColumnMap, error) {
	cols := ColumnMap{Single: map[string]int{}, Multi: map[string][]int{}}
	blank := true
	for _, h := range header {
		if strings.TrimSpace(h) != "" {
			blank = false
			break
		}
	}
	if blank {
		return cols, &MappingError{Reason: "header row is empty"}
	}

	isCollection := make(map[string]bool, len(collections))
	for _, c := range collections {
		isCollection[c] = true
	}

	for i, h := range header {
		name := NormalizeHeader(h)
		if name == "" {
			continue
		}
		if base := collectionName(name, isCollection); base != "" {
			cols.Multi[base] = append(cols.Multi[base], i)
			continue
		}
		cols.Single[name] = i
	}
	return cols, nil
}

func collectionName(name string, isCollection map[string]bool) string {
	if isCollection[name] {
		return name
	}
	if m := suffixRe.FindStringSubmatch(name); m != nil && isCollection[m[1]] {
		return m[1]
	}
	if s := inflection.Singular(name); isCollection[s] {
		return s
	}
	return ""
}

// Has: есть ли колонка для поля.
func (m ColumnMap) Has(name string) bool {
	if _, ok := m.Single[name]; ok {
		return true
	}
	return len(m.Multi[name]) > 0
}

// Cell: значение одиночной колонки в строке; короткая строка даёт "".
func (m ColumnMap) Cell(row []string, name string) (string, bool) {
	i, ok := m.Single[name]
	if !ok {
		return "", false
	}
	return cellAt(row, i), true
}

// Cells: значения колонок коллекции в порядке следования.
func (m ColumnMap) Cells(row []string, name string) []string {
	idx := m.Multi[name]
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, cellAt(row, i))
	}
	return out
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
