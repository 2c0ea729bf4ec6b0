package dsl

import "strings"

// Entity описывает структуру сущности из DSL
type Entity struct {
	Name        string
	Module      string
	Fields      []Field
	Constraints Constraints
}

// Constraints: ограничения уровня сущности (пока только составные unique)
type Constraints struct {
	Unique [][]string
}

// Field описывает поле сущности
type Field struct {
	Name      string
	Type      string            // string, int, date, enum, ref, array, file и т.д.
	ElemType  string            // для array[...]
	RefTarget string            // для ref[...] и array[ref[...]]; "*", полиморфная ссылка
	Enum      []string          // значения enum, если поле типа enum
	Options   map[string]string // required, unique, default, as, polymorphic и прочие опции
}

// AttachmentEntity: исторически файлы в kalita лежали как ref[core.Attachment].
const AttachmentEntity = "core.Attachment"

// FQN возвращает "module.Name".
func (e *Entity) FQN() string { return e.Module + "." + e.Name }

// Field ищет поле по имени.
func (e *Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (f Field) Option(k string) string {
	if f.Options == nil {
		return ""
	}
	return f.Options[k]
}

func (f Field) Flag(k string) bool {
	return strings.EqualFold(f.Option(k), "true")
}

// IsRef: одиночная ссылка (belongs-to).
func (f Field) IsRef() bool {
	return strings.EqualFold(f.Type, "ref") && f.RefTarget != AttachmentEntity
}

// IsPolymorphic: ref[*] либо ref с опцией polymorphic.
func (f Field) IsPolymorphic() bool {
	return f.IsRef() && (f.RefTarget == "*" || f.Flag("polymorphic"))
}

// IsRefArray: array[ref[...]] (has_many / many-to-many).
func (f Field) IsRefArray() bool {
	return strings.EqualFold(f.Type, "array") && strings.EqualFold(f.ElemType, "ref") && f.RefTarget != AttachmentEntity
}

// IsFile: вложение, тип file или legacy ref[core.Attachment].
func (f Field) IsFile() bool {
	if strings.EqualFold(f.Type, "file") {
		return true
	}
	return strings.EqualFold(f.Type, "ref") && f.RefTarget == AttachmentEntity
}
