package tracelog

import (
	"context"

	"github.com/rs/zerolog"
)

// Sink receives one (correlationID, service, message, severity) tuple per
// boundary crossing. Implementations are best-effort: they return nothing
// and must never panic, so a broken sink cannot fail a business operation.
type Sink interface {
	Log(ctx context.Context, correlationID, service, message, severity string)
}

type Severity = string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

type zerologSink struct {
	log zerolog.Logger
}

// NewZerologSink adapts a zerolog.Logger to the Sink contract.
func NewZerologSink(log zerolog.Logger) Sink {
	return &zerologSink{log: log}
}

func (s *zerologSink) Log(ctx context.Context, correlationID, service, message, severity string) {
	var ev *zerolog.Event
	switch severity {
	case SeverityError:
		ev = s.log.Error()
	case SeverityWarn:
		ev = s.log.Warn()
	default:
		ev = s.log.Info()
	}
	ev.Str("request_id", correlationID).Str("service", service).Msg(message)
}

// Nop discards everything. Handy default for tests.
type Nop struct{}

func (Nop) Log(ctx context.Context, correlationID, service, message, severity string) {}
