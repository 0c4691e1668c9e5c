package cmd

import (
	"fmt"
	"strings"

	"entitycore/service"

	"github.com/spf13/cobra"
)

// newEntityCmd creates the 'entity' command group
func newEntityCmd() *cobra.Command {
	entityCmd := &cobra.Command{
		Use:     "entity",
		Aliases: []string{"e"},
		Short:   "Create, transition and inspect stored entities",
		Long: `Create, transition and inspect stored entities.

These commands use the configured storage backend. With the default memory
backend every invocation starts empty; set storage.backend to sqlite to keep
entities between runs.`,
	}

	entityCmd.AddCommand(newEntityCreateCmd())
	entityCmd.AddCommand(newEntityTransitionCmd())
	entityCmd.AddCommand(newEntityGetCmd())
	entityCmd.AddCommand(newEntityListCmd())
	entityCmd.AddCommand(newEntityHistoryCmd())

	return entityCmd
}

func newEntityCreateCmd() *cobra.Command {
	var attrs []string

	cmd := &cobra.Command{
		Use:   "create <type>",
		Short: "Create an entity in its lifecycle's default state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attributes, err := parseAttributes(attrs)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			app, cleanup, err := initCommandApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			entity, err := app.Service.Create(ctx, service.CreateEntityRequest{Type: args[0], Attributes: attributes})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				return outputAsJSON(out, entity)
			}
			successColor.Fprintf(out, "✓ Created %s\n", entity.ID)
			renderEntity(out, entity)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&attrs, "attr", "a", nil, "Attribute as key=value (repeatable)")
	return cmd
}

func newEntityTransitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transition <type> <id> <action>",
		Short: "Apply an action to a stored entity",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			app, cleanup, err := initCommandApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := app.Service.Transition(ctx, service.TransitionRequest{Type: args[0], ID: args[1], Action: args[2]})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				return outputAsJSON(out, res)
			}
			if res.Applied {
				successColor.Fprintf(out, "✓ %s: %s → %s\n", res.Entity.ID, res.From, res.To)
			} else {
				warningColor.Fprintf(out, "%s: %s has no effect in state %s\n", res.Entity.ID, args[2], res.From)
			}
			return nil
		},
	}
}

func newEntityGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Show one entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			app, cleanup, err := initCommandApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			entity, err := app.Service.Get(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				return outputAsJSON(out, entity)
			}
			renderEntity(out, entity)
			return nil
		},
	}
}

func newEntityListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list <type>",
		Aliases: []string{"ls"},
		Short:   "List entities of one type",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			app, cleanup, err := initCommandApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			entities, err := app.Service.List(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				return outputAsJSON(out, entities)
			}
			renderEntitiesTable(out, entities)
			return nil
		},
	}
}

func newEntityHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the transitions applied to an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			app, cleanup, err := initCommandApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			history, err := app.Service.History(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				return outputAsJSON(out, history)
			}
			renderHistory(out, history)
			return nil
		},
	}
}

// parseAttributes turns key=value pairs into a map
func parseAttributes(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	attrs := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid attribute %q: expected key=value", p)
		}
		attrs[k] = v
	}
	return attrs, nil
}
