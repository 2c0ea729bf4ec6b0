package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/avangerus/kalita-import/internal/store"
)

// все сущности живут в одной jsonb-таблице: схема берётся из DSL, а не из БД
var bootstrapDDL = map[string]string{
	"000_records": `create table if not exists kalita_records (
  "entity" text not null,
  "id" text not null,
  "version" bigint not null,
  "created_at" timestamp with time zone not null,
  "updated_at" timestamp with time zone not null,
  "data" jsonb not null default '{}'::jsonb,
  primary key ("entity", "id")
);`,
	"100_records_data_gin": `create index if not exists kalita_records_data_gin on kalita_records using gin ("data" jsonb_path_ops);`,
}

// Store: store.Repository поверх PostgreSQL.
type Store struct {
	db *sql.DB

	mu      sync.Mutex // ulid.Monotonic не потокобезопасен
	entropy io.Reader
}

var _ store.Repository = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Store{db: db, entropy: ulid.Monotonic(src, 0)}
}

// Migrate создаёт служебную таблицу записей.
func (s *Store) Migrate(ctx context.Context, log logrus.FieldLogger) error {
	return ApplyDDL(ctx, s.db, bootstrapDDL, log)
}

func (s *Store) newID(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

const selectCols = `"id", "version", "created_at", "updated_at", "data"`

func scanRecord(sc interface{ Scan(...any) error }) (*store.Record, error) {
	var (
		rec store.Record
		raw []byte
	)
	if err := sc.Scan(&rec.ID, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt, &raw); err != nil {
		return nil, err
	}
	rec.Data = map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.Data); err != nil {
			return nil, errors.Wrap(err, "decode record data")
		}
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// whereMatch строит условия по match; плейсхолдеры начинаются с $2 ($1, entity).
func whereMatch(match store.Match) (string, []any) {
	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		sb   strings.Builder
		args []any
	)
	for _, k := range keys {
		if k == "id" {
			args = append(args, store.Stringify(match[k]))
			fmt.Fprintf(&sb, ` and "id" = $%d::text`, len(args)+1)
			continue
		}
		args = append(args, k, store.Stringify(match[k]))
		fmt.Fprintf(&sb, ` and "data"->>$%d::text = $%d::text`, len(args), len(args)+1)
	}
	return sb.String(), args
}

func (s *Store) Get(ctx context.Context, entity, id string) (*store.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+selectCols+` from kalita_records where "entity" = $1 and "id" = $2`, entity, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s/%s", entity, id)
	}
	return rec, nil
}

func (s *Store) FindFirst(ctx context.Context, entity string, match store.Match) (*store.Record, error) {
	where, args := whereMatch(match)
	q := `select ` + selectCols + ` from kalita_records where "entity" = $1` + where + ` order by "id" limit 1`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, append([]any{entity}, args...)...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find %s", entity)
	}
	return rec, nil
}

func (s *Store) Count(ctx context.Context, entity string, match store.Match, excludeID string) (int, error) {
	where, args := whereMatch(match)
	args = append([]any{entity}, args...)
	if excludeID != "" {
		args = append(args, excludeID)
		where += fmt.Sprintf(` and "id" <> $%d`, len(args))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `select count(*) from kalita_records where "entity" = $1`+where, args...).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count %s", entity)
	}
	return n, nil
}

func (s *Store) Save(ctx context.Context, entity string, rec *store.Record) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return errors.Wrap(err, "encode record data")
	}
	now := time.Now().UTC()

	if rec.ID == "" {
		id := s.newID(now)
		_, err := s.db.ExecContext(ctx,
			`insert into kalita_records ("entity", "id", "version", "created_at", "updated_at", "data")
			 values ($1, $2, 1, $3, $3, $4)`, entity, id, now, string(data))
		if err != nil {
			return errors.Wrapf(err, "insert %s", entity)
		}
		rec.ID, rec.Version, rec.CreatedAt, rec.UpdatedAt = id, 1, now, now
		return nil
	}

	var version int64
	var created time.Time
	err = s.db.QueryRowContext(ctx,
		`update kalita_records set "version" = "version" + 1, "updated_at" = $3, "data" = $4
		 where "entity" = $1 and "id" = $2 returning "version", "created_at"`,
		entity, rec.ID, now, string(data)).Scan(&version, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return errors.Wrapf(err, "update %s/%s", entity, rec.ID)
	}
	rec.Version, rec.CreatedAt, rec.UpdatedAt = version, created.UTC(), now
	return nil
}

func (s *Store) List(ctx context.Context, entity string) ([]*store.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+selectCols+` from kalita_records where "entity" = $1 order by "id"`, entity)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", entity)
	}
	defer rows.Close()

	var out []*store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
