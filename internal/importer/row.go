package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/avangerus/kalita-import/internal/blob"
	"github.com/avangerus/kalita-import/internal/dsl"
	"github.com/avangerus/kalita-import/internal/store"
)

// PreSaveHook: расширение для конкретной сущности перед сохранением.
// Возвращённые ошибки блокируют сохранение строки.
type PreSaveHook func(ctx context.Context, rec *store.Record, row []string, cols ColumnMap) []store.FieldError

// UpdateConfig: режим обновления, LookupField пуст = только создание.
type UpdateConfig struct {
	LookupField string
}

// RowImporter превращает одну строку CSV в одну созданную, обновлённую или отклонённую запись.
type RowImporter struct {
	Desc      *Descriptor
	Repo      store.Repository
	Validator *store.Validator
	Resolver  *Resolver
	Fetcher   *Fetcher // nil: файлы не импортируются, колонка даёт ошибку строки
	Hook      PreSaveHook
	Log       logrus.FieldLogger
}

// ImportRow: импорт одной строки. error возвращается только при сбое хранилища;
// всё, что касается данных строки, уходит в RowResult.
func (ri *RowImporter) ImportRow(ctx context.Context, row []string, cols ColumnMap, update UpdateConfig, assocs map[string]AssociationConfig) (*store.Record, RowResult, error) {
	entity := ri.Desc.Entity.FQN()

	// 1) найти или создать
	attrs := make(map[string]any)
	for _, name := range ri.Desc.Scalar {
		if cell, ok := cols.Cell(row, name); ok {
			attrs[name] = cell
		}
	}

	var rec *store.Record
	existed := false
	var pending []store.FieldError
	if update.LookupField != "" {
		val, _ := cols.Cell(row, update.LookupField)
		if strings.TrimSpace(val) == "" {
			pending = append(pending, store.NewFieldError(store.ErrRequired, update.LookupField,
				fmt.Sprintf("%s can't be blank when updating existing records", humanize(update.LookupField))))
		} else {
			if update.LookupField == "id" {
				val = store.CanonicalID(val)
			}
			found, err := ri.Repo.FindFirst(ctx, entity, store.Match{update.LookupField: val})
			if err != nil {
				return nil, RowResult{}, errors.Wrapf(err, "lookup %s by %s", entity, update.LookupField)
			}
			if found != nil {
				rec, existed = found, true
				for k, v := range attrs {
					if k == update.LookupField {
						continue
					}
					ri.set(rec, k, v)
				}
				// первое сохранение: состояние до ассоциаций фиксируется отдельно
				if _, err := ri.persist(ctx, rec); err != nil {
					return nil, RowResult{}, err
				}
			}
		}
	}
	if rec == nil {
		rec = store.NewRecord(nil)
		for k, v := range attrs {
			ri.set(rec, k, v)
		}
		store.ApplyDefaults(ri.Desc.Entity, rec.Data)
	}

	// 2) belongs-to
	for _, name := range ri.Desc.BelongsTo {
		cell, ok := cols.Cell(row, name)
		if !ok || strings.TrimSpace(cell) == "" {
			continue
		}
		ref, fe, err := ri.resolve(ctx, assocs, name, cell)
		if err != nil {
			return nil, RowResult{}, err
		}
		if fe != nil {
			pending = append(pending, *fe)
			continue
		}
		if ref != nil {
			fd, _ := ri.Desc.Lookup(name)
			fd.Set(rec, ref)
		}
	}

	// 3) коллекции: порядок колонок = порядок элементов
	for _, name := range ri.Desc.Collection {
		var refs []*Ref
		seen := map[string]bool{}
		for _, cell := range cols.Cells(row, name) {
			if strings.TrimSpace(cell) == "" {
				continue
			}
			ref, fe, err := ri.resolve(ctx, assocs, name, cell)
			if err != nil {
				return nil, RowResult{}, err
			}
			if fe != nil {
				pending = append(pending, *fe)
				break
			}
			if ref != nil && !seen[ref.ID] {
				seen[ref.ID] = true
				refs = append(refs, ref)
			}
		}
		// ничего не нашли, коллекцию не трогаем
		if len(refs) > 0 {
			fd, _ := ri.Desc.Lookup(name)
			fd.Set(rec, refs)
		}
	}

	// 4) хук
	if ri.Hook != nil {
		pending = append(pending, ri.Hook(ctx, rec, row, cols)...)
	}

	// 5) файлы, только для новой и пока валидной записи
	if rec.IsNew() && len(pending) == 0 && len(ri.Desc.File) > 0 {
		valid, err := ri.valid(ctx, rec)
		if err != nil {
			return nil, RowResult{}, err
		}
		if valid {
			pending = append(pending, ri.importFiles(ctx, rec, row, cols)...)
		}
	}

	// 6) сохранение
	res := RowResult{Existed: existed}
	if len(pending) > 0 {
		res.Outcome, res.Label, res.Errors = PreSaveFailed, ri.Desc.Label(rec), pending
		return rec, res, nil
	}
	errs, err := ri.persist(ctx, rec)
	if err != nil {
		return nil, RowResult{}, err
	}
	res.Label = ri.Desc.Label(rec)
	switch {
	case len(errs) > 0:
		res.Outcome, res.Errors = SaveFailed, errs
	case existed:
		res.Outcome = Updated
	default:
		res.Outcome = Created
	}
	return rec, res, nil
}

func (ri *RowImporter) set(rec *store.Record, name string, v any) {
	if fd, ok := ri.Desc.Lookup(name); ok {
		fd.Set(rec, v)
	}
}

// resolve: ошибка конфигурации ассоциации превращается в ошибку строки.
func (ri *RowImporter) resolve(ctx context.Context, assocs map[string]AssociationConfig, name, cell string) (*Ref, *store.FieldError, error) {
	cfg, ok := assocs[name]
	if !ok {
		fe := store.NewFieldError(store.ErrImport, name, fmt.Sprintf("%s association is not configured", humanize(name)))
		return nil, &fe, nil
	}
	ref, err := ri.Resolver.Resolve(ctx, cfg, cell)
	var cfgErr *AssociationConfigError
	if errors.As(err, &cfgErr) {
		fe := store.NewFieldError(store.ErrImport, name, fmt.Sprintf("%s association is misconfigured: %s", humanize(name), cfgErr.Reason))
		return nil, &fe, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return ref, nil, nil
}

// persist: валидация и запись. Ошибки валидации возвращаются, запись не выполняется.
func (ri *RowImporter) persist(ctx context.Context, rec *store.Record) ([]store.FieldError, error) {
	errs, err := ri.Validator.Validate(ctx, ri.Desc.Entity, rec)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return errs, nil
	}
	err = ri.Repo.Save(ctx, ri.Desc.Entity.FQN(), rec)
	var verr *store.ValidationError
	if errors.As(err, &verr) {
		return verr.Errors, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "save %s", ri.Desc.Entity.FQN())
	}
	return nil, nil
}

// valid проверяет копию записи, ошибки не записываются.
func (ri *RowImporter) valid(ctx context.Context, rec *store.Record) (bool, error) {
	errs, err := ri.Validator.Validate(ctx, ri.Desc.Entity, rec.Clone())
	return len(errs) == 0, err
}

func (ri *RowImporter) importFiles(ctx context.Context, rec *store.Record, row []string, cols ColumnMap) []store.FieldError {
	var errs []store.FieldError
	for _, name := range ri.Desc.File {
		cell, ok := cols.Cell(row, name)
		if !ok || strings.TrimSpace(cell) == "" {
			continue
		}
		if ri.Fetcher == nil {
			errs = append(errs, store.NewFieldError(store.ErrImport, name, fmt.Sprintf("%s could not be imported: file storage is not configured", humanize(name))))
			continue
		}
		att, err := ri.Fetcher.Fetch(ctx, cell, ri.fileKey(rec, name))
		if err == nil {
			err = ri.attach(ctx, rec, name, att)
		}
		if err != nil {
			ri.Log.WithError(err).WithField("field", name).Warn("attachment import failed")
			errs = append(errs, store.NewFieldError(store.ErrImport, name, fmt.Sprintf("%s could not be imported: %s", humanize(name), errors.Cause(err).Error())))
		}
	}
	return errs
}

// fileKey: <module>/<entity>/<random>/<label>[_<field>]; без читаемой метки имя поля.
func (ri *RowImporter) fileKey(rec *store.Record, field string) string {
	e := ri.Desc.Entity
	name := blob.Slug(ri.Desc.Label(rec))
	switch {
	case name == "":
		name = field
	case len(ri.Desc.File) > 1:
		name += "_" + field
	}
	return blob.UniqueKey(strings.ToLower(e.Module)+"/"+strings.ToLower(e.Name), name)
}

// attach: поле file хранит метаданные вложения; legacy ref[core.Attachment], id записи вложения.
func (ri *RowImporter) attach(ctx context.Context, rec *store.Record, name string, att Attachment) error {
	fd, _ := ri.Desc.Lookup(name)
	if !strings.EqualFold(fd.Field.Type, "ref") {
		fd.Set(rec, att.Value())
		return nil
	}
	data := att.Value()
	data["owner_entity"] = ri.Desc.Entity.FQN()
	data["storage"] = "blob"
	a := store.NewRecord(data)
	if err := ri.Repo.Save(ctx, dsl.AttachmentEntity, a); err != nil {
		return errors.Wrap(err, "save attachment")
	}
	fd.Set(rec, a.ID)
	return nil
}

// humanize("author_email") -> "Author email"
func humanize(name string) string {
	s := strings.ReplaceAll(name, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
