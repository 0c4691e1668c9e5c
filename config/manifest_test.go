package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"entitycore/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifest_Example(t *testing.T) {
	m, err := LoadManifest(filepath.Join("testdata", "entities.yaml"))
	require.NoError(t, err)

	require.Len(t, m.Machines, 1)
	require.Len(t, m.Entities, 3)
	require.Len(t, m.Triggers, 2)

	defs := m.MachineDefinitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "ticket", defs[0].Key)
	assert.Equal(t, core.State("open"), defs[0].DefaultState)
	assert.Equal(t, core.Edge{Action: "start", From: "open", To: "in_progress"}, defs[0].Edges[0])

	machine, err := core.NewMachine(defs[0])
	require.NoError(t, err)
	assert.Equal(t, core.State("blocked"), machine.Apply("in_progress", "block"))

	assert.Equal(t, []string{"ticketBoard", "ticketsByAssignee"}, m.Entities[0].Triggers)
	assert.Equal(t, "order", m.Entities[1].Machine)
}

func TestLoadManifest_Missing(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadManifest_TooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.yaml")
	require.NoError(t, os.WriteFile(path, []byte("# "+strings.Repeat("x", maxManifestSize)), 0o600))
	_, err := LoadManifest(path)
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestParseManifest_Empty(t *testing.T) {
	m, err := ParseManifest(nil)
	require.NoError(t, err)
	assert.Empty(t, m.Entities)
}

func TestParseManifest_UnknownField(t *testing.T) {
	_, err := ParseManifest([]byte("entities:\n  - type: A\n    prefix: A-\n    colour: red\n"))
	assert.Error(t, err)
}

func TestParseManifest_StandaloneTriggerWithoutEntity(t *testing.T) {
	m, err := ParseManifest([]byte("triggers:\n  - name: orphan\n"))
	require.NoError(t, err)
	require.Len(t, m.Triggers, 1)
	assert.Empty(t, m.Triggers[0].EntityType)
}

func TestManifestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing prefix",
			yaml:    "entities:\n  - type: Order\n",
			wantErr: "Prefix",
		},
		{
			name:    "duplicate type",
			yaml:    "entities:\n  - {type: Order, prefix: A-}\n  - {type: Order, prefix: B-}\n",
			wantErr: `entity type "Order" declared twice`,
		},
		{
			name:    "duplicate prefix",
			yaml:    "entities:\n  - {type: Order, prefix: A-}\n  - {type: Invoice, prefix: A-}\n",
			wantErr: `prefix "A-" used by more than one entity`,
		},
		{
			name:    "unknown machine",
			yaml:    "entities:\n  - {type: Order, prefix: A-, machine: nope}\n",
			wantErr: `unknown machine "nope"`,
		},
		{
			name:    "machine without edges",
			yaml:    "machines:\n  - {key: m, default_state: a}\n",
			wantErr: "Edges",
		},
		{
			name: "edge missing target",
			yaml: "machines:\n  - key: m\n    default_state: a\n    edges:\n      - {action: go, from: a}\n",
			wantErr: "To",
		},
		{
			name:    "unreachable default",
			yaml:    "machines:\n  - key: m\n    default_state: z\n    edges:\n      - {action: go, from: a, to: b}\n",
			wantErr: `default state "z"`,
		},
		{
			name: "duplicate machine",
			yaml: "machines:\n" +
				"  - {key: m, default_state: a, edges: [{action: go, from: a, to: b}]}\n" +
				"  - {key: m, default_state: a, edges: [{action: go, from: a, to: b}]}\n",
			wantErr: `machine "m" declared twice`,
		},
		{
			name:    "shadows builtin",
			yaml:    "machines:\n  - {key: order, default_state: a, edges: [{action: go, from: a, to: b}]}\n",
			wantErr: "built-in lifecycle",
		},
		{
			name:    "empty trigger name",
			yaml:    "entities:\n  - {type: Order, prefix: A-, triggers: [\"\"]}\n",
			wantErr: "Triggers",
		},
		{
			name:    "entity trigger with separator",
			yaml:    "entities:\n  - {type: Order, prefix: A-, triggers: [\"list:recent\"]}\n",
			wantErr: `trigger "list:recent" must not contain ':'`,
		},
		{
			name:    "standalone trigger with separator",
			yaml:    "triggers:\n  - {entity_type: Order, name: \"report:daily\"}\n",
			wantErr: `trigger "report:daily" must not contain ':'`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tc.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidManifest)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestDefaultManifest(t *testing.T) {
	m := DefaultManifest()
	require.NoError(t, m.Validate())
	assert.Len(t, m.Entities, 2)
}
