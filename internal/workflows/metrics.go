package workflows

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/decisiond/internal/workflows"

var (
	phaseDuration             metric.Float64Histogram
	phaseErrorCounter         metric.Int64Counter
	decisionsExtractedCounter metric.Int64Counter
)

// phaseAttr tags a metric with the pipeline phase it measures.
func phaseAttr(phase string) attribute.KeyValue {
	return attribute.String("phase", phase)
}

// initMetrics initializes OpenTelemetry metrics for the extraction
// workflow. Called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	phaseDuration, err = meter.Float64Histogram(
		"decisiond.extraction.phase.duration",
		metric.WithDescription("Duration of extraction pipeline phases"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create phase duration histogram: %v", err))
	}

	phaseErrorCounter, err = meter.Int64Counter(
		"decisiond.extraction.phase.errors",
		metric.WithDescription("Number of extraction phase failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create phase error counter: %v", err))
	}

	decisionsExtractedCounter, err = meter.Int64Counter(
		"decisiond.extraction.decisions",
		metric.WithDescription("Total number of decisions extracted and stored"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create decisions counter: %v", err))
	}
}

func init() {
	initMetrics()
}
