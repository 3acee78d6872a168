package assistant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsBurstThenDenies(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("user-a"), "request %d", i)
	}
	assert.False(t, rl.Allow("user-a"))
	assert.True(t, rl.Allow("user-b"), "keys are independent")
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Close()

	rl.Allow("user-a")
	assert.Equal(t, 1, rl.Len())

	rl.evict(time.Now().Add(2 * time.Minute))
	assert.Zero(t, rl.Len())
}

func TestRateLimiterCloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.Close()
	rl.Close()
}
