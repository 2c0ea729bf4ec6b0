package importer

import (
	"fmt"
	"strings"

	"github.com/avangerus/kalita-import/internal/store"
)

// Outcome: результат импорта одной строки.
type Outcome int

const (
	Created Outcome = iota
	Updated
	SaveFailed
	PreSaveFailed
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case SaveFailed:
		return "save_failed"
	case PreSaveFailed:
		return "pre_save_failed"
	default:
		return "unknown"
	}
}

// OK: строка сохранена.
func (o Outcome) OK() bool { return o == Created || o == Updated }

// RowResult: итог по строке; Errors заполнен только для неуспешных исходов.
type RowResult struct {
	Line    int // номер строки в файле, заголовок = 1
	Outcome Outcome
	Label   string
	// Existed: запись найдена по lookup-полю (режим обновления)
	Existed bool
	Errors  []store.FieldError
}

// Message: строка отчёта по фиксированному шаблону.
func (r RowResult) Message() string {
	switch r.Outcome {
	case Created:
		return "Created: " + r.Label
	case Updated:
		return "Updated: " + r.Label
	case SaveFailed:
		verb := "Create"
		if r.Existed {
			verb = "Update"
		}
		return fmt.Sprintf("Failed to %s: %s. Errors: %s.", verb, r.Label, joinMessages(r.Errors))
	default:
		return fmt.Sprintf("Errors before save: %s. Errors: %s.", r.Label, joinMessages(r.Errors))
	}
}

func joinMessages(errs []store.FieldError) string {
	return strings.Join(store.FullMessages(errs), ", ")
}

// Report: результат загрузки. Success и Error всегда не nil.
type Report struct {
	Success []string `json:"success"`
	Error   []string `json:"error"`
	// Skipped: строки, до которых не дошли из-за непредвиденного сбоя
	Skipped []string `json:"skipped,omitempty"`
}

func NewReport() *Report {
	return &Report{Success: []string{}, Error: []string{}}
}

func (r *Report) add(res RowResult) {
	if res.Outcome.OK() {
		r.Success = append(r.Success, res.Message())
		return
	}
	r.Error = append(r.Error, res.Message())
}

// Len: число записей по обработанным строкам.
func (r *Report) Len() int { return len(r.Success) + len(r.Error) }
