package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	require.NoError(t, m.Register(reg))

	m.RecordReceived("detector-mapper")
	m.RecordReceived("detector-mapper")
	m.RecordMapped("detector-mapper", "hit")
	m.RecordPublished("detector-mapper")
	m.RecordDropped("detector-mapper", "overflow")
	m.RecordPendingMisses(12)
	m.RecordBatchFlush(80)
	m.RecordError("detector-mapper", "parse")
	m.RecordNATSStatus(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsReceived.WithLabelValues("detector-mapper")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsMapped.WithLabelValues("detector-mapper", "hit")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.PendingMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))

	m.RecordNATSStatus(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NATSConnected))
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg))
}
