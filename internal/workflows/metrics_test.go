package workflows

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// The instruments are created against the global meter at package init,
// before any SDK provider exists. The global meter delegates once a
// provider is installed, so records made after telemetry startup must land
// in the reader.
func TestInstrumentsRecordThroughInstalledProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
	})

	ctx := context.Background()
	phaseDuration.Record(ctx, 0.25, metric.WithAttributes(phaseAttr("identify")))
	phaseErrorCounter.Add(ctx, 1, metric.WithAttributes(phaseAttr("extract")))
	decisionsExtractedCounter.Add(ctx, 3)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	recorded := make(map[string]bool)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			recorded[m.Name] = true
		}
	}
	assert.True(t, recorded["decisiond.extraction.phase.duration"])
	assert.True(t, recorded["decisiond.extraction.phase.errors"])
	assert.True(t, recorded["decisiond.extraction.decisions"])
}
