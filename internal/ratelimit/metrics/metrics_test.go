package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordDecision("login", true)
	m.RecordDecision("login", false)
	m.RecordDecision("login", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("login", "allowed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("login", "denied")))

	m.ObserveStore("get", time.Now(), nil)
	m.ObserveStore("get", time.Now(), errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("get")))

	m.SetCircuitOpen(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitOpen))
	m.SetCircuitOpen(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitOpen))

	m.RecordSweep(4, time.Millisecond)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SweptEntries))
}
