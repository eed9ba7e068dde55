package debounce_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/skyegpt/skyegpt-web/internal/debounce"
	"github.com/stretchr/testify/assert"
)

func TestKeyedRunsLastCallPerKey(t *testing.T) {
	k := debounce.NewKeyed(20 * time.Millisecond)

	var a, b atomic.Int32
	for i := int32(1); i <= 5; i++ {
		v := i
		k.Do("a", func() { a.Store(v) })
	}
	k.Do("b", func() { b.Store(7) })

	assert.Eventually(t, func() bool {
		return a.Load() == 5 && b.Load() == 7
	}, time.Second, 5*time.Millisecond)
}

func TestKeyedZeroDelayIsSynchronous(t *testing.T) {
	k := debounce.NewKeyed(0)

	called := false
	k.Do("x", func() { called = true })

	assert.True(t, called)
}

func TestKeyedForgetsKeysAfterRunning(t *testing.T) {
	k := debounce.NewKeyed(50 * time.Millisecond)

	var runs atomic.Int32
	for _, key := range []string{"m1", "m2", "m3"} {
		k.Do(key, func() { runs.Add(1) })
	}
	assert.Equal(t, 3, k.Pending())

	assert.Eventually(t, func() bool {
		return runs.Load() == 3 && k.Pending() == 0
	}, time.Second, 5*time.Millisecond)

	// A forgotten key can be scheduled again.
	k.Do("m1", func() { runs.Add(1) })
	assert.Eventually(t, func() bool {
		return runs.Load() == 4 && k.Pending() == 0
	}, time.Second, 5*time.Millisecond)
}
