package error_telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollectorGather(t *testing.T) {
	mc := newMetricsCollector()

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(mc))

	mc.IncCaptured()
	mc.IncCaptured()
	mc.IncSent()
	mc.IncFailed()
	mc.IncRetries()
	mc.IncDiscarded(ReasonFiltered)
	mc.IncDiscarded(ReasonSampleRate)

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]float64{}
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			byName[fam.GetName()] += m.GetCounter().GetValue()
		}
	}

	assert.Equal(t, 2.0, byName["error_telemetry_captured_events_total"])
	assert.Equal(t, 1.0, byName["error_telemetry_sent_events_total"])
	assert.Equal(t, 1.0, byName["error_telemetry_failed_attempts_total"])
	assert.Equal(t, 1.0, byName["error_telemetry_retries_total"])
	assert.Equal(t, 2.0, byName["error_telemetry_discarded_events_total"])
}

func TestClientExposesCollector(t *testing.T) {
	c, err := New(Overrides{LogToConsole: ptr(false)})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	assert.NoError(t, reg.Register(c.MetricsCollector()))
}
