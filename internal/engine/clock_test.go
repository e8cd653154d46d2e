package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// steppingNow returns the given instants in order, repeating the last.
func steppingNow(instants ...time.Time) func() time.Time {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := instants[i]
		if i < len(instants)-1 {
			i++
		}
		return t
	}
}

func TestMonotonicClock_SecondResolutionUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	c := newMonotonicClock(steppingNow(time.Date(2024, 1, 1, 2, 0, 5, 900_000_000, loc)))

	got := c.Now()
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC), got)
	assert.Equal(t, time.UTC, got.Location())
}

func TestMonotonicClock_NeverGoesBackwards(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)
	c := newMonotonicClock(steppingNow(base, base.Add(-5*time.Second), base.Add(time.Second)))

	assert.Equal(t, base, c.Now())
	assert.Equal(t, base, c.Now(), "wall clock stepped back; clamp to last value")
	assert.Equal(t, base.Add(time.Second), c.Now())
}

func TestMonotonicClock_Observe(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newMonotonicClock(steppingNow(base))

	c.Observe(base.Add(time.Hour))
	assert.Equal(t, base.Add(time.Hour), c.Now(), "floor raised by a stored record")

	c.Observe(base)
	assert.Equal(t, base.Add(time.Hour), c.Now(), "observing an earlier time has no effect")
}

func TestMonotonicClock_Concurrent(t *testing.T) {
	c := NewMonotonicClock()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := c.Now()
			for j := 0; j < 100; j++ {
				next := c.Now()
				assert.False(t, next.Before(prev))
				prev = next
			}
		}()
	}
	wg.Wait()
}
