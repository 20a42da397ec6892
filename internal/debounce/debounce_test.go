package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

func TestFirstEventAlwaysTriggers(t *testing.T) {
	d := New(time.Second)
	_, ok := d.LastAccepted()
	require.False(t, ok)
	assert.True(t, d.ShouldTrigger(at(0)))
	last, ok := d.LastAccepted()
	require.True(t, ok)
	assert.Equal(t, at(0), last)
}

func TestBurstWithinIntervalCollapsesToOne(t *testing.T) {
	d := New(time.Second)
	triggers := 0
	for _, s := range []float64{0, 0.1, 0.3, 0.5, 0.99} {
		if d.ShouldTrigger(at(s)) {
			triggers++
		}
	}
	assert.Equal(t, 1, triggers)
}

func TestEventsSeparatedByIntervalBothTrigger(t *testing.T) {
	d := New(time.Second)
	assert.True(t, d.ShouldTrigger(at(0)))
	assert.True(t, d.ShouldTrigger(at(1.2)))

	// exactly one interval later is not "inside" the window
	d = New(time.Second)
	assert.True(t, d.ShouldTrigger(at(0)))
	assert.True(t, d.ShouldTrigger(at(1)))
}

func TestScenarioPointThreeSuppressed(t *testing.T) {
	d := New(time.Second)
	assert.True(t, d.ShouldTrigger(at(0)))
	assert.False(t, d.ShouldTrigger(at(0.3)))
}

func TestSuppressedEventsDoNotExtendWindow(t *testing.T) {
	d := New(time.Second)
	require.True(t, d.ShouldTrigger(at(0)))
	require.False(t, d.ShouldTrigger(at(0.6)))
	require.False(t, d.ShouldTrigger(at(0.9)))
	// measured from the last accepted event, not the last suppressed one
	assert.True(t, d.ShouldTrigger(at(1.0)))
	last, _ := d.LastAccepted()
	assert.Equal(t, at(1.0), last)
}

func TestZeroIntervalNeverSuppresses(t *testing.T) {
	d := New(0)
	assert.Zero(t, d.Interval())
	assert.True(t, d.ShouldTrigger(at(0)))
	assert.True(t, d.ShouldTrigger(at(0.1)))
	assert.True(t, d.ShouldTrigger(at(0.1)))

	assert.Zero(t, New(-time.Second).Interval())
	assert.Equal(t, 250*time.Millisecond, New(250*time.Millisecond).Interval())
}

func TestConcurrentCallersAcceptExactlyOnce(t *testing.T) {
	d := New(time.Minute)
	now := at(0)
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.ShouldTrigger(now) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())
}
