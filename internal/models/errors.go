package models

import (
	"errors"
	"fmt"
)

// ErrorKind identifies which stage of the pipeline failed
type ErrorKind string

const (
	KindSession    ErrorKind = "SessionError"
	KindAuth       ErrorKind = "AuthError"
	KindNavigation ErrorKind = "NavigationError"
	KindDownload   ErrorKind = "DownloadError"
	KindStore      ErrorKind = "StoreError"
	KindWarehouse  ErrorKind = "WarehouseError"
	KindNotify     ErrorKind = "NotifyError"
	KindCalendar   ErrorKind = "CalendarError"
	KindSecret     ErrorKind = "SecretError"
)

// Sentinels for errors.Is matching against an IngestError's kind
var (
	ErrSession    = &IngestError{Kind: KindSession}
	ErrAuth       = &IngestError{Kind: KindAuth}
	ErrNavigation = &IngestError{Kind: KindNavigation}
	ErrDownload   = &IngestError{Kind: KindDownload}
	ErrStore      = &IngestError{Kind: KindStore}
	ErrWarehouse  = &IngestError{Kind: KindWarehouse}
	ErrNotify     = &IngestError{Kind: KindNotify}
	ErrCalendar   = &IngestError{Kind: KindCalendar}
	ErrSecret     = &IngestError{Kind: KindSecret}
)

// IngestError wraps a failure with the pipeline stage it came from
type IngestError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps err with kind and the operation that failed
func NewError(kind ErrorKind, op string, err error) *IngestError {
	return &IngestError{Kind: kind, Op: op, Err: err}
}

func (e *IngestError) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return string(e.Kind)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// Is matches any IngestError of the same kind
func (e *IngestError) Is(target error) bool {
	var t *IngestError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// IsSessionLifecycle reports whether err must abort the whole batch
func IsSessionLifecycle(err error) bool {
	return errors.Is(err, ErrSession) || errors.Is(err, ErrAuth) || errors.Is(err, ErrNavigation)
}
