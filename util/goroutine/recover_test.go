package goroutine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecover_NoPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	func() {
		defer Recover("quiet", logger)
	}()

	assert.Empty(t, logs.All())
}

func TestRecover_LogsPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	func() {
		defer Recover("flush-worker", logger)
		panic("cache exploded")
	}()

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Goroutine panic recovered", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "flush-worker", fields["goroutine"])
	assert.Equal(t, "cache exploded", fields["panic"])
	assert.Contains(t, fields, "stack")
}

func TestRecover_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Recover("no-logger", nil)
		panic("still recovered")
	})
}

func TestGo_RecoversPanic(t *testing.T) {
	AssertNoLeaks(t)

	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	Go("detached", logger, func() {
		panic(42)
	})

	require.Eventually(t, func() bool { return logs.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "detached", logs.All()[0].ContextMap()["goroutine"])
}

func TestGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})
	Go("runner", zaptest.NewLogger(t).Sugar(), func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("function did not run")
	}
}
