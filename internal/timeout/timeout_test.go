package timeout

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFiresAfterDuration(t *testing.T) {
	to := New("test", 3)
	to.Start()
	assert.False(t, to.Tick())
	assert.False(t, to.Tick())
	assert.True(t, to.Tick())
	assert.False(t, to.Ticking())
}

func TestStopDisarms(t *testing.T) {
	to := New("test", 2)
	to.Start()
	to.Tick()
	to.Stop()
	assert.False(t, to.Ticking())
	assert.False(t, to.Tick())
}

func TestBackoffIncreasesAttemptsAndDuration(t *testing.T) {
	to := New("test", 10)
	rng := rand.New(rand.NewSource(1))
	to.Start()
	to.Backoff(rng)
	assert.Equal(t, uint64(1), to.Attempts())
	assert.True(t, to.Ticking())

	first := to.after
	to.Backoff(rng)
	assert.Equal(t, uint64(2), to.Attempts())
	assert.Greater(t, to.after, first-to.base) // grew with the exponent
}

func TestResetRestoresBaseDuration(t *testing.T) {
	to := New("test", 5)
	rng := rand.New(rand.NewSource(2))
	to.Start()
	to.Backoff(rng)
	to.Reset()
	assert.Equal(t, uint64(0), to.Attempts())
	assert.Equal(t, uint64(5), to.after)
}

func TestNotTickingWithoutStart(t *testing.T) {
	to := New("test", 1)
	assert.False(t, to.Tick())
}
