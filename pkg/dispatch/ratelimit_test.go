package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	t.Run("unconfigured platform never limited", func(t *testing.T) {
		rl := NewRateLimiter()
		for i := 0; i < 100; i++ {
			assert.True(t, rl.Take("twitter"))
		}
	})

	t.Run("burst drains then blocks", func(t *testing.T) {
		rl := NewRateLimiter()
		clock := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
		rl.now = func() time.Time { return clock }
		rl.Configure("twitter", 60, 3)

		assert.True(t, rl.Take("twitter"))
		assert.True(t, rl.Take("twitter"))
		assert.True(t, rl.Take("twitter"))
		assert.False(t, rl.Take("twitter"))
	})

	t.Run("tokens refill over time", func(t *testing.T) {
		rl := NewRateLimiter()
		clock := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
		rl.now = func() time.Time { return clock }
		rl.Configure("twitter", 60, 1) // one token per second

		assert.True(t, rl.Take("twitter"))
		assert.False(t, rl.Take("twitter"))

		clock = clock.Add(500 * time.Millisecond)
		assert.False(t, rl.Take("twitter"), "half a token is not enough")

		clock = clock.Add(600 * time.Millisecond)
		assert.True(t, rl.Take("twitter"))
	})

	t.Run("refill never exceeds burst capacity", func(t *testing.T) {
		rl := NewRateLimiter()
		clock := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
		rl.now = func() time.Time { return clock }
		rl.Configure("medium", 60, 2)

		clock = clock.Add(time.Hour)
		assert.True(t, rl.Take("medium"))
		assert.True(t, rl.Take("medium"))
		assert.False(t, rl.Take("medium"))
	})

	t.Run("platforms have independent budgets", func(t *testing.T) {
		rl := NewRateLimiter()
		rl.Configure("twitter", 1, 1)

		assert.True(t, rl.Take("twitter"))
		assert.False(t, rl.Take("twitter"))
		assert.True(t, rl.Take("linkedin"))
	})

	t.Run("zero per-minute leaves platform unlimited", func(t *testing.T) {
		rl := NewRateLimiter()
		rl.Configure("twitter", 0, 5)
		for i := 0; i < 10; i++ {
			assert.True(t, rl.Take("twitter"))
		}
	})
}
