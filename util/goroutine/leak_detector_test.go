package goroutine

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAssertNoLeaks_WithWaitGroup(t *testing.T) {
	AssertNoLeaks(t)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond)
		}()
	}
	wg.Wait()
}

func TestWaitForGoroutineCount(t *testing.T) {
	baseline := runtime.NumGoroutine()
	stop := make(chan struct{})
	go func() { <-stop }()

	assert.False(t, WaitForGoroutineCount(baseline, 20*time.Millisecond, 5*time.Millisecond))

	close(stop)
	assert.True(t, WaitForGoroutineCount(baseline, time.Second, 5*time.Millisecond))
}
