package importer

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var commaSpacesRe = regexp.MustCompile(` *, *`)

// Normalize готовит тело загрузки к разбору: UTF-8 без BOM и битых байт, переводы строк LF,
// без одного завершающего перевода строки, без пробелов вокруг запятых, в нижнем регистре.
// Нижний регистр касается и данных: все сравнения при поиске идут по введённому в нижнем регистре.
func Normalize(raw []byte) string {
	s := strings.TrimPrefix(string(raw), "\ufeff")
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSuffix(s, "\n")
	s = commaSpacesRe.ReplaceAllString(s, ",")
	return cases.Lower(language.Und).String(s)
}
