package store

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
)

// ErrNotFound: записи нет.
var ErrNotFound = errors.New("record not found")

type Record struct {
	ID        string                 `json:"id"`
	Version   int64                  `json:"version"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Data      map[string]interface{} `json:"data"`
}

// NewRecord: несохранённая запись.
func NewRecord(data map[string]any) *Record {
	if data == nil {
		data = map[string]any{}
	}
	return &Record{Data: data}
}

// IsNew: запись ещё ни разу не сохранялась.
func (r *Record) IsNew() bool { return r.ID == "" }

// Clone: глубокая копия Data на один уровень (слайсы копируются).
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Data = make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		switch t := v.(type) {
		case []any:
			cp.Data[k] = append([]any(nil), t...)
		case []string:
			cp.Data[k] = append([]string(nil), t...)
		default:
			cp.Data[k] = v
		}
	}
	return &cp
}

// Get возвращает значение поля; "id" отдаётся из метаданных.
func (r *Record) Get(field string) any {
	if field == "id" {
		return r.ID
	}
	return r.Data[field]
}

// CanonicalID возвращает id в том виде, в каком его выдаёт репозиторий:
// ULID после загрузки приходит в нижнем регистре, храним в верхнем.
func CanonicalID(raw string) string {
	raw = strings.TrimSpace(raw)
	if id, err := ulid.ParseStrict(strings.ToUpper(raw)); err == nil {
		return id.String()
	}
	return raw
}

// Match: условие равенства по полям (сравнение по строковому представлению).
type Match map[string]any

// Matches: запись удовлетворяет всем условиям.
func (m Match) Matches(rec *Record) bool {
	for k, want := range m {
		got, ok := rec.Data[k]
		if k == "id" {
			got, ok = rec.ID, true
		}
		if !ok || got == nil {
			return false
		}
		if stringify(got) != stringify(want) {
			return false
		}
	}
	return true
}

// Repository: хранилище сущностей, которым пользуется импорт.
type Repository interface {
	// Get возвращает запись по id или ErrNotFound.
	Get(ctx context.Context, entity, id string) (*Record, error)
	// FindFirst: первая (по возрастанию id) запись, подходящая под match; nil, nil если нет.
	FindFirst(ctx context.Context, entity string, match Match) (*Record, error)
	// Count: число записей под match, кроме excludeID.
	Count(ctx context.Context, entity string, match Match, excludeID string) (int, error)
	// Save создаёт (ID пустой) или обновляет запись; проставляет ID/Version/метки времени.
	Save(ctx context.Context, entity string, rec *Record) error
	List(ctx context.Context, entity string) ([]*Record, error)
}

// FieldError: ошибка валидации одного поля.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError: набор ошибок, с которым хранилище отказывает в сохранении.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(FullMessages(e.Errors), ", ")
}

// FullMessages: человекочитаемые сообщения для отчёта.
func FullMessages(errs []FieldError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Message)
	}
	return out
}

func ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

// NewFieldError: для хуков и импорта.
func NewFieldError(code, field, msg string) FieldError { return ferr(code, field, msg) }
