// Package telemetry exposes the batch counters as OpenTelemetry instruments.
// Without an SDK installed the global provider is a no-op.
package telemetry

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/proferosec/moo-tools"

// Outcome labels a per-file result.
type Outcome string

const (
	Scanned     Outcome = "scanned"
	Detected    Outcome = "detected"
	Quarantined Outcome = "quarantined"
	Processed   Outcome = "processed"
	Decrypted   Outcome = "decrypted"
	Skipped     Outcome = "skipped"
	Failed      Outcome = "error"
)

// Instruments records per-file outcomes for a run.
type Instruments struct {
	files metric.Int64Counter
}

// New builds instruments from meter, or from the global provider when meter is
// nil.
func New(meter metric.Meter) *Instruments {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	files, err := meter.Int64Counter("moo_files_total",
		metric.WithDescription("Files handled by outcome"))
	if err != nil {
		log.Debugf("Metrics disabled: %s", err)
		return &Instruments{}
	}
	return &Instruments{files: files}
}

func (i *Instruments) Record(ctx context.Context, mode string, o Outcome) {
	if i == nil || i.files == nil {
		return
	}
	i.files.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", string(o)),
	))
}
