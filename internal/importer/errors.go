package importer

import "fmt"

// Сообщения прерывания загрузки.
const (
	msgNoFile        = "You must select a file."
	msgLineLimit     = "Please limit upload file to %d line items."
	msgLookupMissing = "Your file must contain a column for the 'Update lookup field' you selected."
	msgUnexpected    = "Could not upload. Unexpected error: %s"
)

// MappingError: заголовок CSV не пригоден для сопоставления колонок.
type MappingError struct {
	Reason string
}

func (e *MappingError) Error() string { return "column mapping: " + e.Reason }

// AssociationConfigError: ключ резолвера не разбирается или указывает на неизвестный тип.
// Ошибка строки, а не всей загрузки.
type AssociationConfigError struct {
	Field  string
	Spec   string
	Reason string
}

func (e *AssociationConfigError) Error() string {
	if e.Spec == "" {
		return fmt.Sprintf("association %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("association %s (%q): %s", e.Field, e.Spec, e.Reason)
}

// BatchAbortError: загрузка прервана целиком. Message показывается пользователю.
type BatchAbortError struct {
	Message string
	Cause   error
}

func (e *BatchAbortError) Error() string { return e.Message }

func (e *BatchAbortError) Unwrap() error { return e.Cause }

func abort(format string, args ...any) *BatchAbortError {
	return &BatchAbortError{Message: fmt.Sprintf(format, args...)}
}

func unexpected(err error) *BatchAbortError {
	return &BatchAbortError{Message: fmt.Sprintf(msgUnexpected, err.Error()), Cause: err}
}
