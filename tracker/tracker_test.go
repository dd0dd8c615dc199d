package tracker

import (
	"sync"
	"testing"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
)

func TestUpdateMemory_PeakIsMaxCurrentIsLast(t *testing.T) {
	tr := New()
	values := []uint64{100, 4096, 10, 2048, 7}

	for _, v := range values {
		tr.UpdateMemory(v)
		assert.GreaterOrEqual(t, tr.PeakMemory(), tr.CurrentMemory())
	}

	assert.Equal(t, uint64(4096), tr.PeakMemory())
	assert.Equal(t, uint64(7), tr.CurrentMemory())
}

func TestUpdateMemory_ConcurrentPeak(t *testing.T) {
	tr := New()
	var wg conc.WaitGroup
	for i := 1; i <= 500; i++ {
		v := uint64(i)
		wg.Go(func() { tr.UpdateMemory(v) })
	}
	wg.Wait()

	assert.Equal(t, uint64(500), tr.PeakMemory())
}

func TestIncrementInstanceCount_NoLostUpdates(t *testing.T) {
	tr := New()
	const n = 1000

	var start sync.WaitGroup
	start.Add(1)
	var wg conc.WaitGroup
	for i := 0; i < n; i++ {
		wg.Go(func() {
			start.Wait()
			tr.IncrementInstanceCount()
		})
	}
	start.Done()
	wg.Wait()

	assert.Equal(t, uint64(n), tr.InstanceCount())
}

func TestNew_IsolatedTrackers(t *testing.T) {
	a, b := New(), New()
	a.IncrementInstanceCount()
	a.UpdateMemory(42)

	assert.Equal(t, Stats{PeakMemory: 42, CurrentMemory: 42, InstanceCount: 1}, a.Stats())
	assert.Equal(t, Stats{}, b.Stats())
}
