package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Counters(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter(WebhookDeliveriesTotal, map[string]string{"result": "ok"}, "")
	r.IncrementCounter(WebhookDeliveriesTotal, map[string]string{"result": "ok"}, "")
	r.AddToCounter(WebhookDeliveriesTotal, 3, map[string]string{"result": "failed"}, "")

	assert.Equal(t, 2.0, r.CounterValue(WebhookDeliveriesTotal, map[string]string{"result": "ok"}))
	assert.Equal(t, 3.0, r.CounterValue(WebhookDeliveriesTotal, map[string]string{"result": "failed"}))
	assert.Equal(t, 0.0, r.CounterValue("unknown", nil))
}

func TestRegistry_Gauges(t *testing.T) {
	r := NewRegistry()

	r.AddToGauge(SessionsLive, 1, nil, "")
	r.AddToGauge(SessionsLive, 1, nil, "")
	r.AddToGauge(SessionsLive, -1, nil, "")
	assert.Equal(t, 1.0, r.GaugeValue(SessionsLive, nil))

	r.SetGauge(SessionsLive, 7, nil, "")
	assert.Equal(t, 7.0, r.GaugeValue(SessionsLive, nil))
}

func TestRegistry_RecordTimer(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 20; i++ {
		r.RecordTimer(WebhookDeliveryDuration, time.Duration(i)*time.Millisecond, nil, "")
	}

	snap := r.Snapshot()
	timer, ok := snap.Timers[WebhookDeliveryDuration]
	require.True(t, ok)
	assert.Equal(t, int64(20), timer.Count)
	assert.Equal(t, 1.0, timer.Min)
	assert.Equal(t, 20.0, timer.Max)
	assert.InDelta(t, 10.5, timer.Average, 0.001)
	assert.Equal(t, 20.0, timer.P95)
	assert.Nil(t, timer.samples)
}

func TestMetricKey_LabelOrderIndependent(t *testing.T) {
	a := metricKey("m", map[string]string{"a": "1", "b": "2"})
	b := metricKey("m", map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, a, b)
	assert.Equal(t, "m{a=1,b=2}", a)
	assert.Equal(t, "m", metricKey("m", nil))
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	labels := map[string]string{"reason": "forbidden"}
	r.IncrementCounter(SessionDisconnectsTotal, labels, "")

	snap := r.Snapshot()
	r.IncrementCounter(SessionDisconnectsTotal, labels, "")

	assert.Equal(t, 1.0, snap.Counters[metricKey(SessionDisconnectsTotal, labels)].Value)
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.IncrementCounter(SessionStartsTotal, nil, "")
			r.RecordTimer(HTTPRequestDuration, time.Millisecond, nil, "")
			_ = r.Snapshot()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50.0, r.CounterValue(SessionStartsTotal, nil))
}
