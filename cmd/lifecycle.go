package cmd

import (
	"fmt"
	"strings"

	"entitycore/config"
	"entitycore/core"

	"github.com/spf13/cobra"
)

// machineView is the JSON shape of 'describe <machine>'
type machineView struct {
	core.MachineDefinition
	Terminal []core.State `json:"terminal_states"`
	Shadowed []core.Edge  `json:"shadowed_edges,omitempty"`
}

// applyView is the JSON shape of 'apply'
type applyView struct {
	Machine string      `json:"machine"`
	From    core.State  `json:"from"`
	Action  core.Action `json:"action"`
	To      core.State  `json:"to"`
	Changed bool        `json:"changed"`
	Strict  bool        `json:"strict"`
}

// newDescribeCmd creates the 'describe' subcommand
func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe [machine]",
		Short: "List state machines or show one in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			app, cleanup, err := initOfflineApp(ctx, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				keys := app.Engine.Keys()
				if outputJSON {
					return outputAsJSON(out, keys)
				}
				renderMachineList(out, app.Engine)
				return nil
			}

			m, err := app.Engine.Machine(args[0])
			if err != nil {
				return err
			}
			view := newMachineView(m)
			if outputJSON {
				return outputAsJSON(out, view)
			}
			renderMachine(out, view)
			return nil
		},
	}
}

func newMachineView(m *core.Machine) machineView {
	def := m.Definition()
	var terminal []core.State
	for _, s := range machineStates(def) {
		if m.IsTerminal(s) {
			terminal = append(terminal, s)
		}
	}
	return machineView{MachineDefinition: def, Terminal: terminal, Shadowed: m.Shadowed()}
}

// machineStates returns every state of def in first-mention order
func machineStates(def core.MachineDefinition) []core.State {
	seen := map[core.State]bool{}
	var states []core.State
	add := func(s core.State) {
		if !seen[s] {
			seen[s] = true
			states = append(states, s)
		}
	}
	add(def.DefaultState)
	for _, e := range def.Edges {
		add(e.From)
		add(e.To)
	}
	return states
}

// newApplyCmd creates the 'apply' subcommand
func newApplyCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "apply <machine> <from> <action>",
		Short: "Resolve the state an action leads to",
		Long: `Resolve the next state of a machine without touching any entity.

Unknown actions leave the state unchanged unless --strict is given or
transitions.strict is set in the config.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			app, cleanup, err := initOfflineApp(ctx, func(cfg *config.Config) {
				cfg.Transitions.Strict = cfg.Transitions.Strict || strict
			})
			if err != nil {
				return err
			}
			defer cleanup()

			from, action := core.State(args[1]), core.Action(args[2])
			to, err := app.Engine.Apply(args[0], from, action)
			if err != nil {
				return err
			}

			view := applyView{
				Machine: args[0],
				From:    from,
				Action:  action,
				To:      to,
				Changed: to != from,
				Strict:  app.Engine.Strict(),
			}
			out := cmd.OutOrStdout()
			if outputJSON {
				return outputAsJSON(out, view)
			}
			renderApply(out, view)
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on actions with no matching edge")
	return cmd
}

// newIDsCmd creates the 'ids' subcommand
func newIDsCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "ids [entity-type|prefix]",
		Short: "List identifier registrations or preview allocations",
		Long: `Without arguments, list every prefix registration. With an entity type or
prefix, allocate --count identifiers from a fresh registry seeded from
identifiers.seed. Nothing is persisted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			app, cleanup, err := initOfflineApp(ctx, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				entries := app.IDs.Entries()
				if outputJSON {
					return outputAsJSON(out, entries)
				}
				renderIdentifierEntries(out, entries)
				return nil
			}
			if count < 1 {
				return fmt.Errorf("--count must be positive")
			}

			next := app.IDs.NextByPrefix
			if _, ok := app.IDs.PrefixFor(args[0]); ok {
				next = app.IDs.NextByEntityType
			}
			ids := make([]string, 0, count)
			for i := 0; i < count; i++ {
				id, err := next(args[0])
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			if outputJSON {
				return outputAsJSON(out, ids)
			}
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of identifiers to allocate")
	return cmd
}

// newTriggersCmd creates the 'triggers' subcommand
func newTriggersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "triggers [entity-type]",
		Short: "Show which cached queries a write flushes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			app, cleanup, err := initOfflineApp(ctx, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				names := app.Invalidation.TriggersFor(args[0])
				if outputJSON {
					return outputAsJSON(out, names)
				}
				if len(names) == 0 {
					warningColor.Fprintf(out, "No triggers registered for %s\n", args[0])
					return nil
				}
				for _, n := range names {
					fmt.Fprintln(out, n)
				}
				return nil
			}

			triggers := app.Invalidation.Triggers()
			if outputJSON {
				return outputAsJSON(out, triggers)
			}
			renderTriggers(out, triggers)
			return nil
		},
	}
}

// newManifestCmd creates the 'manifest' command group
func newManifestCmd() *cobra.Command {
	manifestCmd := &cobra.Command{
		Use:   "manifest",
		Short: "Work with entity manifests",
	}
	manifestCmd.AddCommand(newManifestValidateCmd())
	return manifestCmd
}

func newManifestValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check an entity manifest without starting anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.LoadManifest(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				return outputAsJSON(out, m)
			}
			successColor.Fprintf(out, "✓ %s is valid\n", args[0])
			printField(out, "Machines", joinMachineKeys(m.Machines))
			printField(out, "Entities", fmt.Sprintf("%d", len(m.Entities)))
			printField(out, "Standalone triggers", fmt.Sprintf("%d", len(m.Triggers)))
			for _, t := range m.Triggers {
				if strings.TrimSpace(t.EntityType) == "" {
					warningColor.Fprintf(out, "  ! trigger %s has no entity type and will never be flushed\n", t.Name)
				}
			}
			return nil
		},
	}
}

func joinMachineKeys(specs []config.MachineSpec) string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.Key)
	}
	return strings.Join(keys, ", ")
}
