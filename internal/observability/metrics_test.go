package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.SwapsCreated.Inc()
	m.SwapTransitions.WithLabelValues("COMPLETED").Inc()
	m.SwapTransitions.WithLabelValues("COMPLETED").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SwapsCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SwapTransitions.WithLabelValues("COMPLETED")))

	n, err := testutil.GatherAndCount(reg, "test_escrow_swaps_created_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordPublish_CountsFailures(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.EventsFailed.WithLabelValues("unit"))

	RecordPublish("unit", 0.01, nil)
	RecordPublish("unit", 0.01, errors.New("down"))

	after := testutil.ToFloat64(DefaultMetrics.EventsFailed.WithLabelValues("unit"))
	assert.Equal(t, before+1, after)
}
