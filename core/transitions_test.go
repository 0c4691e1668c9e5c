package core

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestEngine(t *testing.T, strict bool) *TransitionEngine {
	t.Helper()
	te := NewTransitionEngine(strict, zaptest.NewLogger(t).Sugar())
	require.NoError(t, te.Register(jobMachine(t)))
	require.NoError(t, te.Register(MustNewMachine(OrderLifecycle())))
	return te
}

func TestTransitionEngine_Permissive(t *testing.T) {
	te := newTestEngine(t, false)
	assert.False(t, te.Strict())

	to, err := te.Apply("job", "start", "A")
	require.NoError(t, err)
	assert.Equal(t, State("running"), to)

	to, err = te.Apply("job", "start", "B")
	require.NoError(t, err, "permissive mode absorbs illegal actions")
	assert.Equal(t, State("start"), to)

	to, err = te.Apply("job", "done", "A")
	require.NoError(t, err)
	assert.Equal(t, State("done"), to)
}

func TestTransitionEngine_Strict(t *testing.T) {
	te := newTestEngine(t, true)

	to, err := te.Apply("order", OrderStateDraft, OrderActionPlace)
	require.NoError(t, err)
	assert.Equal(t, OrderStatePlaced, to)

	to, err = te.Apply("order", OrderStateDelivered, OrderActionCancel)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, OrderStateDelivered, to)
}

func TestTransitionEngine_UnknownMachine(t *testing.T) {
	for _, strict := range []bool{false, true} {
		t.Run(fmt.Sprintf("strict=%v", strict), func(t *testing.T) {
			te := newTestEngine(t, strict)
			to, err := te.Apply("missing", "start", "A")
			assert.ErrorIs(t, err, ErrUnknownMachine)
			assert.Equal(t, State("start"), to)

			_, err = te.Describe("missing")
			assert.ErrorIs(t, err, ErrUnknownMachine)
		})
	}
}

func TestTransitionEngine_CanApplySeparatesSelfLoopFromNoop(t *testing.T) {
	te := newTestEngine(t, false)
	require.NoError(t, te.Register(MustNewMachine(MachineDefinition{
		Key:          "ticket",
		DefaultState: "open",
		Edges:        []Edge{{Action: "comment", From: "open", To: "open"}},
	})))

	// both leave the state unchanged
	to, err := te.Apply("ticket", "open", "comment")
	require.NoError(t, err)
	assert.Equal(t, State("open"), to)
	to, err = te.Apply("ticket", "open", "reopen")
	require.NoError(t, err)
	assert.Equal(t, State("open"), to)

	ok, err := te.CanApply("ticket", "open", "comment")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = te.CanApply("ticket", "open", "reopen")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = te.CanApply("missing", "open", "comment")
	assert.ErrorIs(t, err, ErrUnknownMachine)
}

func TestTransitionEngine_RegisterDuplicate(t *testing.T) {
	te := newTestEngine(t, false)
	err := te.Register(jobMachine(t))
	assert.ErrorIs(t, err, ErrDuplicateMachine)
	assert.ErrorIs(t, te.Register(nil), ErrInvalidMachine)
}

func TestTransitionEngine_Describe(t *testing.T) {
	te := newTestEngine(t, false)

	def, err := te.Describe("order")
	require.NoError(t, err)
	assert.Equal(t, "order", def.Key)
	assert.Equal(t, OrderStateDraft, def.DefaultState)
	assert.Equal(t, OrderLifecycle().Edges, def.Edges)

	assert.Equal(t, []string{"job", "order"}, te.Keys())
}

func TestTransitionEngine_ConcurrentApply(t *testing.T) {
	te := newTestEngine(t, false)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%8 == 0 {
				_ = te.Register(MustNewMachine(MachineDefinition{
					Key:          fmt.Sprintf("extra-%d", i),
					DefaultState: "s",
				}))
			}
			for j := 0; j < 100; j++ {
				to, err := te.Apply("job", "running", "B")
				if err != nil || to != "done" {
					t.Errorf("unexpected result %s, %v", to, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, te.Keys(), 6)
}
