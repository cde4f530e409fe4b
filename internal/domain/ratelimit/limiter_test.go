package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestAllowSlidingWindow(t *testing.T) {
	clock := newClock()
	l := New(5, 60*time.Second, WithClock(clock.Now))

	var got []bool
	for i := 0; i < 6; i++ {
		got = append(got, l.Allow("op-1"))
		clock.Advance(time.Second)
	}
	assert.Equal(t, []bool{true, true, true, true, true, false}, got)
	assert.Equal(t, 0, l.Remaining("op-1"))

	clock.Advance(61 * time.Second)
	assert.True(t, l.Allow("op-1"))
	assert.Equal(t, 4, l.Remaining("op-1"))
}

func TestRejectedCallsAreNotRecorded(t *testing.T) {
	clock := newClock()
	l := New(2, 10*time.Second, WithClock(clock.Now))

	assert.True(t, l.Allow("op"))
	clock.Advance(5 * time.Second)
	assert.True(t, l.Allow("op"))
	for i := 0; i < 5; i++ {
		assert.False(t, l.Allow("op"))
	}

	// only the first entry ages out; the rejected calls left nothing behind
	clock.Advance(5 * time.Second)
	assert.Equal(t, 1, l.Remaining("op"))
	assert.True(t, l.Allow("op"))
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(1, time.Minute)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestReset(t *testing.T) {
	l := New(1, time.Minute)
	assert.True(t, l.Allow("op"))
	assert.False(t, l.Allow("op"))

	l.Reset("op")
	assert.Equal(t, 1, l.Remaining("op"))
	assert.True(t, l.Allow("op"))
}

func TestCleanupStale(t *testing.T) {
	clock := newClock()
	l := New(10, time.Minute, WithClock(clock.Now))

	l.Allow("idle")
	clock.Advance(3 * time.Minute)
	l.Allow("busy")

	removed := l.CleanupStale(2 * time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 9, l.Remaining("busy"))
}

func TestConcurrentAllowNeverExceedsMax(t *testing.T) {
	l := New(50, time.Hour)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("op") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}
