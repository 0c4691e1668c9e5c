package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"entitycore/core"
	"entitycore/storage"

	"github.com/fatih/color"
)

// renderMachineList displays registered machines in a table
func renderMachineList(w io.Writer, engine *core.TransitionEngine) {
	keys := engine.Keys()
	if len(keys) == 0 {
		warningColor.Fprintln(w, "No state machines registered")
		return
	}

	headerColor.Fprintln(w, "STATE MACHINES")
	headerColor.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "%-20s %-20s %-8s\n", "Key", "Default State", "Edges")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, k := range keys {
		def, err := engine.Describe(k)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%-20s %-20s %-8d\n", k, def.DefaultState, len(def.Edges))
	}
	fmt.Fprintln(w, strings.Repeat("=", 60))
}

// renderMachine displays one machine with its edges
func renderMachine(w io.Writer, view machineView) {
	headerColor.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	headerColor.Fprintf(w, "  Machine: %s\n", view.Key)
	headerColor.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(w)

	printField(w, "Default State", view.DefaultState.String())
	printField(w, "State Field", view.StateField)
	printField(w, "Action Field", view.ActionField)
	printField(w, "Terminal States", joinStates(view.Terminal))
	fmt.Fprintln(w)

	printSection(w, "Edges")
	fmt.Fprintf(w, "  %-22s %-18s %-18s\n", "Action", "From", "To")
	for _, e := range view.Edges {
		fmt.Fprintf(w, "  %-22s %-18s %-18s\n", e.Action, e.From, e.To)
	}

	if len(view.Shadowed) > 0 {
		fmt.Fprintln(w)
		warningColor.Fprintln(w, "  Shadowed edges (an earlier edge wins):")
		for _, e := range view.Shadowed {
			warningColor.Fprintf(w, "    %s --%s--> %s\n", e.From, e.Action, e.To)
		}
	}
}

// renderApply displays the outcome of a transition preview
func renderApply(w io.Writer, v applyView) {
	if v.Changed {
		successColor.Fprintf(w, "%s --%s--> %s\n", v.From, v.Action, v.To)
		return
	}
	warningColor.Fprintf(w, "%s --%s--> %s (no matching edge, state unchanged)\n", v.From, v.Action, v.To)
}

// renderIdentifierEntries displays prefix registrations
func renderIdentifierEntries(w io.Writer, entries []core.IdentifierEntry) {
	if len(entries) == 0 {
		warningColor.Fprintln(w, "No identifier prefixes registered")
		return
	}

	headerColor.Fprintln(w, "IDENTIFIER PREFIXES")
	headerColor.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "%-12s %-24s %-8s\n", "Prefix", "Entity Type", "Issued")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, e := range entries {
		fmt.Fprintf(w, "%-12s %-24s %-8d\n", e.Prefix, e.EntityType, e.Issued)
	}
	fmt.Fprintln(w, strings.Repeat("=", 60))
}

// renderTriggers displays every trigger registration grouped by entity type
func renderTriggers(w io.Writer, triggers []core.Trigger) {
	if len(triggers) == 0 {
		warningColor.Fprintln(w, "No triggers registered")
		return
	}

	byType := make(map[string][]string)
	var unresolved []string
	for _, t := range triggers {
		if t.Unresolved {
			unresolved = append(unresolved, t.Name)
			continue
		}
		byType[t.EntityType] = appendUnique(byType[t.EntityType], t.Name)
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	headerColor.Fprintln(w, "CACHE TRIGGERS")
	for _, t := range types {
		printField(w, t, strings.Join(byType[t], ", "))
	}
	if len(unresolved) > 0 {
		errorColor.Fprintf(w, "  %-25s %s\n", "unresolved:", strings.Join(unresolved, ", "))
	}
}

// renderEntity displays one entity
func renderEntity(w io.Writer, e *storage.Entity) {
	printField(w, "ID", e.ID)
	printField(w, "Type", e.Type)
	printField(w, "State", formatState(e.State))
	printField(w, "Version", fmt.Sprintf("%d", e.Version))
	printField(w, "Created", formatTime(e.CreatedAt))
	printField(w, "Updated", formatTime(e.UpdatedAt))

	if len(e.Attributes) > 0 {
		keys := make([]string, 0, len(e.Attributes))
		for k := range e.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		printSection(w, "Attributes")
		for _, k := range keys {
			printField(w, k, e.Attributes[k])
		}
	}
}

// renderEntitiesTable displays entities in a formatted table
func renderEntitiesTable(w io.Writer, entities []*storage.Entity) {
	if len(entities) == 0 {
		warningColor.Fprintln(w, "No entities found")
		return
	}

	headerColor.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%-20s %-18s %-8s %-20s\n", "ID", "State", "Version", "Updated")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, e := range entities {
		fmt.Fprintf(w, "%-20s %-18s %-8d %-20s\n", e.ID, e.State, e.Version, formatTime(e.UpdatedAt))
	}
	headerColor.Fprintln(w, strings.Repeat("=", 80))
}

// renderHistory displays the transition trail of one entity
func renderHistory(w io.Writer, history []storage.TransitionRecord) {
	if len(history) == 0 {
		warningColor.Fprintln(w, "No transitions recorded")
		return
	}

	fmt.Fprintf(w, "%-20s %-18s %-18s %-18s\n", "At", "Action", "From", "To")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, h := range history {
		fmt.Fprintf(w, "%-20s %-18s %-18s %-18s\n", formatTime(h.At), h.Action, h.From, h.To)
	}
}

// printSection prints a section header
func printSection(w io.Writer, title string) {
	headerColor.Fprintf(w, "  %s\n", title)
	headerColor.Fprintln(w, "  "+strings.Repeat("─", len(title)))
}

// printField prints a key-value field
func printField(w io.Writer, key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Fprintf(w, "  %-25s %s\n", key+":", value)
}

// formatState colors well-known final states
func formatState(state string) string {
	switch core.State(state) {
	case core.OrderStateDelivered, core.AlertStateResolved, core.AlertStateClosed:
		return color.New(color.FgGreen).Sprint(state)
	case core.OrderStateCancelled, core.AlertStateDismissed, core.AlertStateFalsePositive:
		return color.New(color.FgYellow).Sprint(state)
	case core.AlertStateEscalated:
		return color.New(color.FgRed).Sprint(state)
	default:
		return infoColor.Sprint(state)
	}
}

// formatTime formats a timestamp
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func joinStates(states []core.State) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = s.String()
	}
	return strings.Join(parts, ", ")
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
