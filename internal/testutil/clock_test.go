package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_StartsAtEpoch(t *testing.T) {
	clock := NewManualClock()
	assert.Equal(t, Epoch, clock.Now())
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock()

	assert.Equal(t, Epoch.Add(100*time.Millisecond), clock.Advance(100*time.Millisecond))
	assert.Equal(t, Epoch.Add(100*time.Millisecond), clock.Now())

	// Never goes backwards
	clock.Advance(-time.Second)
	assert.Equal(t, Epoch.Add(100*time.Millisecond), clock.Now())
}

func TestManualClock_Reset(t *testing.T) {
	clock := NewManualClock()
	clock.Advance(time.Hour)

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestManualClock_ThreadSafe(t *testing.T) {
	clock := NewManualClock()
	const numGoroutines = 50
	const callsPerGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				clock.Advance(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, Epoch.Add(numGoroutines*callsPerGoroutine*time.Millisecond), clock.Now())
}
