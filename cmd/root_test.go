package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"entitycore/core"
	"entitycore/service"
	"entitycore/storage"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleManifest = "../config/testdata/entities.yaml"

// runCmd executes the root command with args and returns stdout
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--no-color", "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

// writeSQLiteConfig writes a config file that keeps entities in a temp database
func writeSQLiteConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
storage:
  backend: sqlite
  sqlite_path: %s
cache:
  backend: memory
`, filepath.Join(dir, "entities.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()
	assert.Equal(t, "entitycore", cmd.Use)

	for _, name := range []string{"serve", "describe", "apply", "ids", "triggers", "manifest", "entity"} {
		assert.NotNil(t, findCommand(cmd, name), "Missing command: %s", name)
	}
	for _, flag := range []string{"json", "config", "manifest", "no-color", "log-level"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "Missing flag: %s", flag)
	}

	entity := findCommand(cmd, "entity")
	require.NotNil(t, entity)
	for _, name := range []string{"create", "transition", "get", "list", "history"} {
		assert.NotNil(t, findCommand(entity, name), "Missing entity command: %s", name)
	}
}

func TestCommandArgValidation(t *testing.T) {
	tests := []struct {
		args []string
	}{
		{[]string{"apply", "order", "draft"}},
		{[]string{"describe", "a", "b"}},
		{[]string{"manifest", "validate"}},
		{[]string{"entity", "transition", "Order", "ORD-1"}},
		{[]string{"serve", "extra"}},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, "_"), func(t *testing.T) {
			_, err := runCmd(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestDescribeCmd_List(t *testing.T) {
	out, err := runCmd(t, "--json", "describe")
	require.NoError(t, err)

	var keys []string
	require.NoError(t, json.Unmarshal([]byte(out), &keys))
	assert.Equal(t, []string{"alert", "order"}, keys)

	out, err = runCmd(t, "--manifest", exampleManifest, "describe")
	require.NoError(t, err)
	assert.Contains(t, out, "STATE MACHINES")
	assert.Contains(t, out, "ticket")
}

func TestDescribeCmd_Machine(t *testing.T) {
	out, err := runCmd(t, "--json", "describe", "order")
	require.NoError(t, err)

	var view machineView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "order", view.Key)
	assert.Equal(t, core.OrderStateDraft, view.DefaultState)
	assert.ElementsMatch(t, []core.State{core.OrderStateDelivered, core.OrderStateCancelled}, view.Terminal)

	out, err = runCmd(t, "describe", "order")
	require.NoError(t, err)
	assert.Contains(t, out, "Machine: order")
	assert.Contains(t, out, "place")

	_, err = runCmd(t, "describe", "nope")
	assert.ErrorIs(t, err, core.ErrUnknownMachine)
}

func TestApplyCmd(t *testing.T) {
	out, err := runCmd(t, "--json", "apply", "order", "draft", "place")
	require.NoError(t, err)
	var view applyView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, core.OrderStatePlaced, view.To)
	assert.True(t, view.Changed)

	out, err = runCmd(t, "apply", "order", "draft", "ship")
	require.NoError(t, err)
	assert.Contains(t, out, "state unchanged")

	_, err = runCmd(t, "apply", "--strict", "order", "draft", "ship")
	var illegal *core.IllegalTransitionError
	assert.ErrorAs(t, err, &illegal)
}

func TestIDsCmd(t *testing.T) {
	out, err := runCmd(t, "ids", "Order", "--count", "3")
	require.NoError(t, err)
	assert.Equal(t, "ORD-000000001\nORD-000000002\nORD-000000003\n", out)

	out, err = runCmd(t, "--json", "ids", "ALR-", "-n", "1")
	require.NoError(t, err)
	var ids []string
	require.NoError(t, json.Unmarshal([]byte(out), &ids))
	assert.Equal(t, []string{"ALR-000000001"}, ids)

	out, err = runCmd(t, "ids")
	require.NoError(t, err)
	assert.Contains(t, out, "ORD-")
	assert.Contains(t, out, "Alert")

	_, err = runCmd(t, "ids", "Refund")
	assert.ErrorIs(t, err, core.ErrUnknownPrefix)

	_, err = runCmd(t, "ids", "Order", "--count", "0")
	assert.Error(t, err)
}

func TestTriggersCmd(t *testing.T) {
	out, err := runCmd(t, "--json", "--manifest", exampleManifest, "triggers", "Ticket")
	require.NoError(t, err)
	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	assert.ElementsMatch(t, []string{"ticketBoard", "ticketsByAssignee", "dashboardSummary",
		service.GetTrigger("Ticket"), service.ListTrigger("Ticket")}, names)

	out, err = runCmd(t, "--manifest", exampleManifest, "triggers")
	require.NoError(t, err)
	assert.Contains(t, out, "CACHE TRIGGERS")
	assert.Contains(t, out, "orderTotals")

	out, err = runCmd(t, "triggers", "Shipment")
	require.NoError(t, err)
	assert.Contains(t, out, "No triggers registered for Shipment")
}

func TestManifestValidateCmd(t *testing.T) {
	out, err := runCmd(t, "manifest", "validate", exampleManifest)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "ticket")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("entities:\n  - type: Order\n    prefix: ORD-\n    machine: missing\n"), 0600))
	_, err = runCmd(t, "manifest", "validate", bad)
	assert.Error(t, err)

	orphan := filepath.Join(t.TempDir(), "orphan.yaml")
	require.NoError(t, os.WriteFile(orphan, []byte("triggers:\n  - name: orphanReport\n"), 0600))
	out, err = runCmd(t, "manifest", "validate", orphan)
	require.NoError(t, err)
	assert.Contains(t, out, "orphanReport has no entity type")
}

func TestEntityCommands_PersistAcrossRuns(t *testing.T) {
	cfgPath := writeSQLiteConfig(t)

	out, err := runCmd(t, "--config", cfgPath, "--json", "entity", "create", "Order", "-a", "customer=acme")
	require.NoError(t, err)
	var created storage.Entity
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "ORD-000000001", created.ID)
	assert.Equal(t, "acme", created.Attributes["customer"])

	out, err = runCmd(t, "--config", cfgPath, "entity", "transition", "Order", created.ID, "place")
	require.NoError(t, err)
	assert.Contains(t, out, "draft → placed")

	out, err = runCmd(t, "--config", cfgPath, "entity", "transition", "Order", created.ID, "deliver")
	require.NoError(t, err)
	assert.Contains(t, out, "has no effect")

	out, err = runCmd(t, "--config", cfgPath, "entity", "get", "Order", created.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "placed")
	assert.Contains(t, out, "customer")

	out, err = runCmd(t, "--config", cfgPath, "entity", "list", "Order")
	require.NoError(t, err)
	assert.Contains(t, out, created.ID)

	out, err = runCmd(t, "--config", cfgPath, "--json", "entity", "history", created.ID)
	require.NoError(t, err)
	var history []storage.TransitionRecord
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "place", history[0].Action)

	_, err = runCmd(t, "--config", cfgPath, "entity", "get", "Alert", created.ID)
	assert.ErrorIs(t, err, service.ErrEntityTypeMismatch)
}

func TestEntityCreateCmd_BadAttribute(t *testing.T) {
	_, err := runCmd(t, "entity", "create", "Order", "-a", "novalue")
	assert.ErrorContains(t, err, "expected key=value")
}

func TestParseAttributes(t *testing.T) {
	attrs, err := parseAttributes([]string{"a=1", "b=x=y", " c =", "a=2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "2", "b": "x=y", "c": ""}, attrs)

	attrs, err = parseAttributes(nil)
	require.NoError(t, err)
	assert.Nil(t, attrs)

	_, err = parseAttributes([]string{"=v"})
	assert.Error(t, err)
}

// findCommand finds a subcommand by name
func findCommand(parent *cobra.Command, name string) *cobra.Command {
	for _, cmd := range parent.Commands() {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}
