package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Diagnosis("success", 2*time.Second)
	m.Diagnosis("success", time.Second)
	m.CacheLookup("hit")
	m.ModelAttempt("gemini-2.5-flash", "quota_exceeded")
	m.RateLimited()
	m.ImageRejected("too_large")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.diagnoses.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelAttempts.WithLabelValues("gemini-2.5-flash", "quota_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.imageRejected.WithLabelValues("too_large")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.latency))
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Diagnosis("success", time.Second)
		m.CacheLookup("miss")
		m.ModelAttempt("x", "ok")
		m.RateLimited()
		m.ImageRejected("corrupt")
	})
}
