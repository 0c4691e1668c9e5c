package core

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestIdentifierRegistry(t *testing.T) *IdentifierRegistry {
	t.Helper()
	return NewIdentifierRegistry(DefaultSequenceWidth, 0, zaptest.NewLogger(t).Sugar())
}

func TestIdentifierRegistry_OrderScenario(t *testing.T) {
	reg := newTestIdentifierRegistry(t)
	require.NoError(t, reg.Register("ORD-", "Order"))

	first, err := reg.NextByEntityType("Order")
	require.NoError(t, err)
	assert.Equal(t, "ORD-000000001", first)

	second, err := reg.NextByEntityType("Order")
	require.NoError(t, err)
	assert.Equal(t, "ORD-000000002", second)
}

func TestIdentifierRegistry_StrictlyIncreasing(t *testing.T) {
	reg := newTestIdentifierRegistry(t)
	require.NoError(t, reg.Register("INV-", "Invoice"))

	const n = 500
	prev := ""
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id, err := reg.NextByPrefix("INV-")
		require.NoError(t, err)
		assert.Greater(t, id, prev, "fixed-width ids must sort in issue order")
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
		prev = id
	}
}

func TestIdentifierRegistry_SharedCounter(t *testing.T) {
	reg := newTestIdentifierRegistry(t)
	require.NoError(t, reg.Register("ORD-", "Order"))

	byPrefix, err := reg.NextByPrefix("ORD-")
	require.NoError(t, err)
	byType, err := reg.NextByEntityType("Order")
	require.NoError(t, err)

	assert.NotEqual(t, byPrefix, byType)
	assert.Equal(t, "ORD-000000001", byPrefix)
	assert.Equal(t, "ORD-000000002", byType)
}

func TestIdentifierRegistry_UnknownKeys(t *testing.T) {
	reg := newTestIdentifierRegistry(t)

	_, err := reg.NextByPrefix("NOPE-")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownPrefix)
	assert.ErrorIs(t, err, ErrUnknownKey)

	_, err = reg.NextByEntityType("Ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownEntityType)
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.False(t, errors.Is(err, ErrUnknownPrefix))
}

func TestIdentifierRegistry_DuplicateRegistration(t *testing.T) {
	testCases := []struct {
		name       string
		prefix     string
		entityType string
		conflict   string
	}{
		{"same pair again", "ORD-", "Order", "both"},
		{"prefix reused", "ORD-", "Receipt", "prefix"},
		{"entity type reused", "OR2-", "Order", "entity_type"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reg := newTestIdentifierRegistry(t)
			require.NoError(t, reg.Register("ORD-", "Order"))

			err := reg.Register(tc.prefix, tc.entityType)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDuplicateRegistration)

			var regErr *RegistrationError
			require.ErrorAs(t, err, &regErr)
			assert.Equal(t, tc.conflict, regErr.Conflict)

			// the original binding is untouched
			id, err := reg.NextByPrefix("ORD-")
			require.NoError(t, err)
			assert.Equal(t, "ORD-000000001", id)
		})
	}
}

func TestIdentifierRegistry_InvalidRegistration(t *testing.T) {
	reg := newTestIdentifierRegistry(t)
	assert.ErrorIs(t, reg.Register("", "Order"), ErrInvalidRegistration)
	assert.ErrorIs(t, reg.Register("ORD-", ""), ErrInvalidRegistration)
	assert.Empty(t, reg.Entries())
}

func TestIdentifierRegistry_Exists(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	reg := NewIdentifierRegistry(0, 0, zap.New(core).Sugar())
	require.NoError(t, reg.Register("ORD-", "Order"))
	require.NoError(t, reg.Register("INV-", "Invoice"))

	assert.True(t, reg.Exists("ORD-", "Order"))
	assert.False(t, reg.Exists("CUS-", "Customer"))
	assert.Equal(t, 0, logs.Len(), "absent pair is not an inconsistency")

	assert.False(t, reg.Exists("ORD-", "Customer"), "only prefix registered")
	assert.False(t, reg.Exists("CUS-", "Order"), "only entity type registered")
	assert.False(t, reg.Exists("ORD-", "Invoice"), "keys bound to different generators")
	assert.Equal(t, 3, logs.FilterMessageSnippet("inconsistency").Len())
}

func TestIdentifierRegistry_SeedAndWidth(t *testing.T) {
	reg := NewIdentifierRegistry(4, 41, zaptest.NewLogger(t).Sugar())
	require.NoError(t, reg.Register("T-", "Ticket"))

	id, err := reg.NextByPrefix("T-")
	require.NoError(t, err)
	assert.Equal(t, "T-0042", id)

	last, err := reg.Last("T-")
	require.NoError(t, err)
	assert.Equal(t, "T-0042", last)
}

func TestGenerator_WidensPastWidth(t *testing.T) {
	g := NewGenerator("X", "Thing", 2, 99)
	id, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, "X100", id)
}

func TestGenerator_Exhausted(t *testing.T) {
	g := NewGenerator("X", "Thing", 3, math.MaxUint64-1)

	id, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("X%d", uint64(math.MaxUint64)), id)

	_, err = g.Next()
	assert.ErrorIs(t, err, ErrCounterExhausted)
}

func TestGenerator_LastBeforeIssue(t *testing.T) {
	g := NewGenerator("X-", "Thing", 0, 10)
	assert.Equal(t, "", g.Last())
	assert.Equal(t, uint64(0), g.Issued())

	_, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), g.Issued())
}

func TestIdentifierRegistry_Entries(t *testing.T) {
	reg := newTestIdentifierRegistry(t)
	require.NoError(t, reg.Register("ORD-", "Order"))
	require.NoError(t, reg.Register("ALR-", "Alert"))
	_, err := reg.NextByPrefix("ORD-")
	require.NoError(t, err)

	entries := reg.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "ALR-", entries[0].Prefix)
	assert.Equal(t, IdentifierEntry{Prefix: "ORD-", EntityType: "Order", Last: "ORD-000000001", Issued: 1}, entries[1])

	prefix, ok := reg.PrefixFor("Alert")
	assert.True(t, ok)
	assert.Equal(t, "ALR-", prefix)
}

func TestIdentifierRegistry_ConcurrentAllocation(t *testing.T) {
	reg := newTestIdentifierRegistry(t)
	require.NoError(t, reg.Register("ORD-", "Order"))

	const goroutines = 16
	const perGoroutine = 200

	var mu sync.Mutex
	var all []string
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			local := make([]string, 0, perGoroutine)
			for j := 0; j < perGoroutine; j++ {
				var id string
				var err error
				if (i+j)%2 == 0 {
					id, err = reg.NextByPrefix("ORD-")
				} else {
					id, err = reg.NextByEntityType("Order")
				}
				if err != nil {
					t.Errorf("allocation failed: %v", err)
					return
				}
				local = append(local, id)
			}
			mu.Lock()
			all = append(all, local...)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, all, goroutines*perGoroutine)
	sort.Strings(all)
	for i := 1; i < len(all); i++ {
		require.NotEqual(t, all[i-1], all[i], "duplicate id issued")
	}
	assert.Equal(t, fmt.Sprintf("ORD-%09d", goroutines*perGoroutine), all[len(all)-1])
}

func TestIdentifierRegistry_ConcurrentRegistration(t *testing.T) {
	reg := newTestIdentifierRegistry(t)

	const attempts = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reg.Register("ORD-", "Order"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly one registration must win")
	assert.True(t, reg.Exists("ORD-", "Order"))
}
