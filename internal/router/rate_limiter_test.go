package router

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("a"), "message %d", i+1)
	}
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "limits are per client")
	assert.Equal(t, 2, rl.Tracked())
}

func TestRateLimiter_WindowExpires(t *testing.T) {
	rl := NewRateLimiter(1, 50*time.Millisecond)

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	time.Sleep(80 * time.Millisecond)
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiter_Forget(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	rl.Forget("a")
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiter_DisabledAndNil(t *testing.T) {
	assert.True(t, NewRateLimiter(0, time.Minute).Allow("a"))

	var rl *RateLimiter
	assert.True(t, rl.Allow("a"))
	rl.Forget("a")
	assert.Equal(t, 0, rl.Tracked())
}

func TestRateLimiter_ConcurrentSendersShareOneWindow(t *testing.T) {
	rl := NewRateLimiter(20, time.Minute)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("a") {
				allowed.Add(1)
			}
			if rl.Allow("b") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(40), allowed.Load())
}
