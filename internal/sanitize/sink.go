package sanitize

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kalambet/mealkit/internal/storage"
)

// Diagnostic is the unsanitized record of a failure.
type Diagnostic struct {
	Scope   string
	Kind    string
	Status  int
	Message string
	Detail  string
	At      time.Time
}

// Sink receives every raw error before it is sanitized.
type Sink interface {
	Record(ctx context.Context, d Diagnostic) error
}

// LogSink writes diagnostics to a slog logger at error level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Record(ctx context.Context, d Diagnostic) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.ErrorContext(ctx, "remote failure",
		"scope", d.Scope,
		"kind", d.Kind,
		"status", d.Status,
		"raw", d.Message,
		"detail", d.Detail,
	)
	return nil
}

// StoreSink persists diagnostics to the local database so they survive the
// process.
type StoreSink struct {
	Store *storage.Store
}

func (s StoreSink) Record(_ context.Context, d Diagnostic) error {
	return s.Store.RecordDiagnostic(storage.Diagnostic{
		Scope:     d.Scope,
		Kind:      d.Kind,
		Status:    d.Status,
		Message:   d.Message,
		Detail:    d.Detail,
		CreatedAt: d.At,
	})
}

// MultiSink records to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, d Diagnostic) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
