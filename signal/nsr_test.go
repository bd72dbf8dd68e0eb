package signal

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/skillflow/internal/metrics"
)

func TestNSRTracker(t *testing.T) {
	tr := NewNSRTracker(nil)
	assert.Zero(t, tr.Ratio())

	tr.Observe(Result{Type: TypeNormal})
	tr.Observe(Result{Type: TypeTooFast, IsNoise: true})
	tr.Observe(Result{Type: TypeTooFast, IsNoise: true})
	ratio := tr.Observe(Result{Type: TypeError})

	assert.InDelta(t, 0.5, ratio, 1e-9)
	s := tr.Snapshot()
	assert.Equal(t, int64(4), s.Total)
	assert.Equal(t, int64(2), s.Noise)
	assert.Equal(t, int64(2), s.Signal)
	assert.Equal(t, int64(2), s.ByType[TypeTooFast])

	s.ByType[TypeTooFast] = 99
	assert.Equal(t, int64(2), tr.Snapshot().ByType[TypeTooFast], "snapshot is a copy")

	tr.Reset()
	assert.Zero(t, tr.Snapshot().Total)
}

func TestNSRTracker_Concurrent(t *testing.T) {
	tr := NewNSRTracker(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(noise bool) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tr.Observe(Result{Type: TypeNormal, IsNoise: noise})
			}
		}(i%2 == 0)
	}
	wg.Wait()
	assert.Equal(t, int64(1000), tr.Snapshot().Total)
	assert.InDelta(t, 0.5, tr.Ratio(), 1e-9)
}

func TestNSRTracker_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := NewNSRTracker(metrics.NewCollector("test", reg, nil))
	tr.Observe(Result{Type: TypeSoftRegression, IsNoise: true})
	tr.Observe(Result{Type: TypeNormal})

	count, err := testutil.GatherAndCount(reg, "test_signal_classifications_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
