package importer

import (
	"sort"
	"strings"
	"sync"

	"github.com/jinzhu/inflection"

	"github.com/avangerus/kalita-import/internal/dsl"
	"github.com/avangerus/kalita-import/internal/profile"
	"github.com/avangerus/kalita-import/internal/store"
)

// Role: роль поля при импорте.
type Role int

const (
	RoleScalar Role = iota
	RoleBelongsTo
	RoleCollection
	RoleFile
)

func (r Role) String() string {
	switch r {
	case RoleBelongsTo:
		return "belongs_to"
	case RoleCollection:
		return "collection"
	case RoleFile:
		return "file"
	default:
		return "scalar"
	}
}

// служебные поля записи: не импортируются никогда
var systemFields = map[string]bool{
	"id": true, "version": true, "created_at": true, "updated_at": true,
}

// FieldDescriptor описывает поле реестра: имя колонки, роль и доступ к значению.
type FieldDescriptor struct {
	Name  string // имя в заголовке CSV (для коллекций, в единственном числе)
	Role  Role
	Field dsl.Field
	Set   func(rec *store.Record, v any)
	Get   func(rec *store.Record) any
}

// Descriptor: что и как можно импортировать в сущность.
type Descriptor struct {
	Entity     *dsl.Entity
	Scalar     []string
	BelongsTo  []string
	Collection []string
	File       []string
	Excluded   map[string]bool
	LabelField string

	fields map[string]*FieldDescriptor
}

// Describe строит дескриптор. Чистая функция схемы и профиля.
func Describe(schema *dsl.Entity, p profile.Profile) *Descriptor {
	d := &Descriptor{
		Entity:   schema,
		Excluded: p.Excluded(),
		fields:   make(map[string]*FieldDescriptor),
	}

	// ключи, которые «принадлежат» ассоциациям: author_id, imageable_type
	owned := map[string]bool{}

	// сначала ассоциации и файлы: их имена вытесняют одноимённые скаляры
	for _, f := range schema.Fields {
		var role Role
		name := f.Name
		switch {
		case f.IsFile():
			role = RoleFile
		case f.IsRef():
			role = RoleBelongsTo
			owned[f.Name+"_id"] = true
			if f.IsPolymorphic() {
				owned[f.Name+"_type"] = true
			}
		case f.IsRefArray():
			role = RoleCollection
			name = inflection.Singular(f.Name)
			owned[f.Name+"_ids"] = true
		default:
			continue
		}
		if d.Excluded[f.Name] || d.Excluded[name] {
			continue
		}
		if _, taken := d.fields[name]; taken {
			continue
		}
		d.register(name, role, f)
	}

	for _, f := range schema.Fields {
		if f.IsFile() || f.IsRef() || f.IsRefArray() {
			continue
		}
		if systemFields[f.Name] || owned[f.Name] || f.Flag("readonly") || d.Excluded[f.Name] {
			continue
		}
		if _, taken := d.fields[f.Name]; taken {
			continue
		}
		d.register(f.Name, RoleScalar, f)
	}

	d.LabelField = strings.ToLower(strings.TrimSpace(p.Label))
	if d.LabelField == "" {
		d.LabelField = pickDisplayField(schema)
	}
	return d
}

func (d *Descriptor) register(name string, role Role, f dsl.Field) {
	key := f.Name
	fd := &FieldDescriptor{
		Name:  name,
		Role:  role,
		Field: f,
		Set:   func(rec *store.Record, v any) { rec.Data[key] = v },
		Get:   func(rec *store.Record) any { return rec.Data[key] },
	}
	switch {
	case role == RoleBelongsTo && f.IsPolymorphic():
		// полиморфная ссылка: id + конкретный тип рядом
		fd.Set = func(rec *store.Record, v any) {
			if ref, ok := v.(*Ref); ok && ref != nil {
				rec.Data[key] = ref.ID
				rec.Data[key+"_type"] = ref.Entity
			}
		}
	case role == RoleBelongsTo:
		fd.Set = func(rec *store.Record, v any) {
			if ref, ok := v.(*Ref); ok && ref != nil {
				rec.Data[key] = ref.ID
			}
		}
	case role == RoleCollection:
		fd.Set = func(rec *store.Record, v any) {
			refs, _ := v.([]*Ref)
			ids := make([]any, 0, len(refs))
			for _, r := range refs {
				ids = append(ids, r.ID)
			}
			rec.Data[key] = ids
		}
	}
	d.fields[name] = fd
	switch role {
	case RoleScalar:
		d.Scalar = append(d.Scalar, name)
	case RoleBelongsTo:
		d.BelongsTo = append(d.BelongsTo, name)
	case RoleCollection:
		d.Collection = append(d.Collection, name)
	case RoleFile:
		d.File = append(d.File, name)
	}
}

// Lookup: дескриптор поля по имени колонки.
func (d *Descriptor) Lookup(name string) (*FieldDescriptor, bool) {
	fd, ok := d.fields[name]
	return fd, ok
}

// Is проверяет роль поля.
func (d *Descriptor) Is(name string, role Role) bool {
	fd, ok := d.fields[name]
	return ok && fd.Role == role
}

// Label: человекочитаемая идентичность записи для отчёта.
func (d *Descriptor) Label(rec *store.Record) string {
	return store.Stringify(rec.Get(d.LabelField))
}

// выбираем поле для отображения сущности
func pickDisplayField(s *dsl.Entity) string {
	for _, c := range []string{"name", "title", "email", "code"} {
		if _, ok := s.Field(c); ok {
			return c
		}
	}
	for _, f := range s.Fields {
		if strings.EqualFold(f.Type, "string") {
			return f.Name
		}
	}
	return "id"
}

// PolymorphicTargets: неизменяемый снимок, роль -> FQN сущностей, объявивших коллекцию as=роль.
type PolymorphicTargets map[string][]string

// Targets: кандидаты роли; пустой список, если роль никто не объявил.
func (t PolymorphicTargets) Targets(role string) []string {
	return t[strings.ToLower(role)]
}

func (t PolymorphicTargets) Has(role, fqn string) bool {
	for _, c := range t.Targets(role) {
		if c == fqn {
			return true
		}
	}
	return false
}

// PolymorphicIndex: процессный индекс полиморфных ролей. Читатели получают снимок,
// Rebuild подменяет его целиком.
type PolymorphicIndex struct {
	mu    sync.RWMutex
	snap  PolymorphicTargets
	built bool
}

func NewPolymorphicIndex() *PolymorphicIndex {
	return &PolymorphicIndex{snap: PolymorphicTargets{}}
}

// Build строит индекс, если он ещё не построен.
func (ix *PolymorphicIndex) Build(cat dsl.Catalog) {
	ix.mu.RLock()
	built := ix.built
	ix.mu.RUnlock()
	if !built {
		ix.Rebuild(cat)
	}
}

// Rebuild пересобирает индекс (после перезагрузки схем).
func (ix *PolymorphicIndex) Rebuild(cat dsl.Catalog) {
	next := buildTargets(cat)
	ix.mu.Lock()
	ix.snap = next
	ix.built = true
	ix.mu.Unlock()
}

// Snapshot: текущий снимок; не изменяется после выдачи.
func (ix *PolymorphicIndex) Snapshot() PolymorphicTargets {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.snap
}

func (ix *PolymorphicIndex) Targets(role string) []string {
	return ix.Snapshot().Targets(role)
}

func buildTargets(cat dsl.Catalog) PolymorphicTargets {
	out := PolymorphicTargets{}
	for _, fqn := range cat.Names() {
		for _, f := range cat[fqn].Fields {
			role := strings.ToLower(strings.TrimSpace(f.Option("as")))
			if role == "" || !f.IsRefArray() {
				continue
			}
			if !contains(out[role], fqn) {
				out[role] = append(out[role], fqn)
			}
		}
	}
	for role := range out {
		sort.Strings(out[role])
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
