package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/avangerus/kalita-import/internal/dsl"
	"github.com/avangerus/kalita-import/internal/profile"
	"github.com/avangerus/kalita-import/internal/store"
)

// Upload: загруженный файл.
type Upload struct {
	Name string
	Data []byte
}

// Options: параметры одного прогона.
type Options struct {
	Entity         string
	UpdateIfExists bool
	UpdateLookup   string
	// поле ассоциации -> ключ резолвера; пустые берутся из профиля
	Associations map[string]string
}

// Runner выполняет загрузки. Строки обрабатываются строго по очереди.
type Runner struct {
	Catalog  dsl.Catalog
	Repo     store.Repository
	Profiles profile.Set
	Index    *PolymorphicIndex
	Fetcher  *Fetcher
	Hooks    map[string]PreSaveHook // FQN -> хук

	LineItemLimit int
	Logging       bool
	Audit         *Audit
	Metrics       *Metrics
	Log           logrus.FieldLogger

	Now func() time.Time
}

// Describe: дескриптор сущности с учётом профиля.
func (r *Runner) Describe(entity string) (*Descriptor, error) {
	fqn, ok := r.Catalog.Resolve(entity)
	if !ok {
		return nil, errors.Errorf("unknown entity %q", entity)
	}
	return Describe(r.Catalog[fqn], r.Profiles.For(fqn)), nil
}

// Run выполняет загрузку. Отчёт возвращается всегда; при прерывании error, *BatchAbortError,
// а его сообщение, последняя строка Report.Error.
func (r *Runner) Run(ctx context.Context, up *Upload, opts Options) (*Report, error) {
	started := r.now()
	report := NewReport()

	desc, err := r.Describe(opts.Entity)
	if err != nil {
		return r.fail(report, opts.Entity, started, unexpected(err))
	}
	entity := desc.Entity.FQN()
	log := r.logger().WithField("entity", entity)
	prof := r.Profiles.For(entity)

	if up == nil || len(up.Data) == 0 {
		return r.fail(report, entity, started, abort(msgNoFile))
	}

	audit := r.audit(prof)
	if audit != nil {
		if _, err := audit.SaveUpload(started, up.Data); err != nil {
			log.WithError(err).Warn("upload copy not saved")
		}
	}

	data := up.Data
	if IsSpreadsheet(up.Name, data) {
		if data, err = SpreadsheetToCSV(data); err != nil {
			return r.fail(report, entity, started, unexpected(err))
		}
	}

	rows, err := parseCSV(Normalize(data))
	if err != nil {
		return r.fail(report, entity, started, unexpected(err))
	}

	limit := r.LineItemLimit
	if prof.LineItemLimit > 0 {
		limit = prof.LineItemLimit
	}
	if limit > 0 && len(rows) > limit {
		return r.fail(report, entity, started, abort(msgLineLimit, limit))
	}

	var header []string
	if len(rows) > 0 {
		header = rows[0]
	}
	cols, err := BuildColumnMap(header, desc.Collection)
	if err != nil {
		return r.fail(report, entity, started, unexpected(err))
	}

	update := UpdateConfig{}
	if opts.UpdateIfExists {
		update.LookupField = NormalizeHeader(opts.UpdateLookup)
		if _, ok := cols.Single[update.LookupField]; update.LookupField == "" || !ok {
			return r.fail(report, entity, started, abort(msgLookupMissing))
		}
	}

	ri := &RowImporter{
		Desc:      desc,
		Repo:      r.Repo,
		Validator: &store.Validator{Catalog: r.Catalog, Repo: r.Repo},
		Resolver:  &Resolver{Catalog: r.Catalog, Repo: r.Repo, Targets: r.index().Snapshot(), Owner: desc.Entity},
		Fetcher:   r.Fetcher,
		Hook:      r.Hooks[entity],
		Log:       log,
	}
	assocs := r.associations(desc, prof, opts.Associations)

	dataRows := rows[1:]
	for i, row := range dataRows {
		line := i + 2
		res, err := r.importRow(ctx, ri, row, cols, update, assocs)
		if err != nil {
			log.WithError(err).WithField("line", line).Error("import aborted by unexpected error")
			for j := i; j < len(dataRows); j++ {
				report.Skipped = append(report.Skipped, fmt.Sprintf("Skipped: line %d", j+2))
			}
			return r.fail(report, entity, started, unexpected(errors.Cause(err)))
		}
		res.Line = line
		report.add(res)
		r.Metrics.row(entity, res.Outcome)
		if audit != nil {
			audit.Row(entity, res)
		}
	}

	log.WithFields(logrus.Fields{"success": len(report.Success), "error": len(report.Error)}).Info("import finished")
	r.Metrics.batch(entity, "completed", started)
	return report, nil
}

// importRow изолирует строку: паника превращается в ошибку прогона.
func (r *Runner) importRow(ctx context.Context, ri *RowImporter, row []string, cols ColumnMap, update UpdateConfig, assocs map[string]AssociationConfig) (res RowResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("panic: %v", p)
		}
	}()
	if err := ctx.Err(); err != nil {
		return RowResult{}, err
	}
	_, res, err = ri.ImportRow(ctx, row, cols, update, assocs)
	return res, err
}

func (r *Runner) fail(report *Report, entity string, started time.Time, e *BatchAbortError) (*Report, error) {
	report.Error = append(report.Error, e.Message)
	r.logger().WithField("entity", entity).WithError(e.Cause).Warn(e.Message)
	if a := r.audit(r.Profiles.For(entity)); a != nil {
		a.Abort(entity, e)
	}
	r.Metrics.batch(entity, "aborted", started)
	return report, e
}

// associations: конфиги из запроса, недостающие, из профиля.
func (r *Runner) associations(desc *Descriptor, prof profile.Profile, given map[string]string) map[string]AssociationConfig {
	keys := map[string]string{}
	for k, v := range prof.Associations {
		keys[NormalizeHeader(k)] = v
	}
	for k, v := range given {
		if strings.TrimSpace(v) != "" {
			keys[NormalizeHeader(k)] = v
		}
	}
	out := make(map[string]AssociationConfig)
	for _, name := range append(append([]string{}, desc.BelongsTo...), desc.Collection...) {
		key, ok := keys[name]
		if !ok {
			// коллекцию можно указать и во множественном числе
			fd, _ := desc.Lookup(name)
			key, ok = keys[fd.Field.Name]
		}
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		fd, _ := desc.Lookup(name)
		out[name] = NewAssociationConfig(fd, key)
	}
	return out
}

func (r *Runner) audit(p profile.Profile) *Audit {
	enabled := r.Logging
	if p.Logging != nil {
		enabled = *p.Logging
	}
	if !enabled {
		return nil
	}
	return r.Audit
}

// index: без общего индекса строим его по каталогу на время прогона.
func (r *Runner) index() *PolymorphicIndex {
	if r.Index != nil {
		return r.Index
	}
	ix := NewPolymorphicIndex()
	ix.Build(r.Catalog)
	return ix
}

func (r *Runner) logger() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func parseCSV(body string) ([][]string, error) {
	rd := csv.NewReader(strings.NewReader(body))
	rd.FieldsPerRecord = -1
	rd.LazyQuotes = true
	rows, err := rd.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "parse csv")
	}
	return rows, nil
}
