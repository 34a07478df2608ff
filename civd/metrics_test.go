package civd

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetricsRegisterSucceedsOnce(t *testing.T) {
	m := NewMetrics("civd_test_register")
	reg := prometheus.NewRegistry()
	assert.NoError(t, m.Register(reg))
}

func TestMetricsObserveQuerySuccessRecordsBytesAndCache(t *testing.T) {
	m := NewMetrics("civd_test_observe")
	pkt := &VolumePacket{BytesRead: 42, DecodeMS: 1.5}
	m.ObserveQuery(ModeFull, nil, pkt, StreamStats{Hits: 3, Misses: 1})

	assert.Equal(t, float64(42), counterValue(t, m.BytesRead))
	assert.Equal(t, float64(3), counterValue(t, m.CacheHits))
	assert.Equal(t, float64(1), counterValue(t, m.CacheMisses))
}

func TestMetricsObserveQueryErrorSkipsPacketFields(t *testing.T) {
	m := NewMetrics("civd_test_observe_err")
	m.ObserveQuery(ModeDelta, errors.New("boom"), nil, StreamStats{})

	counter, err := m.QueriesTotal.GetMetricWithLabelValues("delta", "error")
	require.NoError(t, err)
	assert.Equal(t, float64(1), counterValue(t, counter))
	assert.Equal(t, float64(0), counterValue(t, m.BytesRead))
}
