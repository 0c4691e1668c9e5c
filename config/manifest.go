package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"entitycore/core"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest is returned for manifests that parse but are inconsistent
var ErrInvalidManifest = errors.New("invalid entity manifest")

// maxManifestSize bounds how much of a manifest file is read
const maxManifestSize = 1 << 20

// EdgeSpec is one transition in a manifest machine
type EdgeSpec struct {
	Action string `yaml:"action" json:"action" validate:"required,max=64"`
	From   string `yaml:"from" json:"from" validate:"required,max=64"`
	To     string `yaml:"to" json:"to" validate:"required,max=64"`
}

// MachineSpec declares a state machine inline in the manifest
type MachineSpec struct {
	Key          string     `yaml:"key" json:"key" validate:"required,max=64"`
	StateField   string     `yaml:"state_field" json:"state_field" validate:"omitempty,max=64"`
	ActionField  string     `yaml:"action_field" json:"action_field" validate:"omitempty,max=64"`
	DefaultState string     `yaml:"default_state" json:"default_state" validate:"required,max=64"`
	Edges        []EdgeSpec `yaml:"edges" json:"edges" validate:"required,min=1,dive"`
}

// EntitySpec binds an entity type to its ID prefix, lifecycle and cache triggers
type EntitySpec struct {
	Type     string   `yaml:"type" json:"type" validate:"required,max=64"`
	Prefix   string   `yaml:"prefix" json:"prefix" validate:"required,max=16"`
	Machine  string   `yaml:"machine" json:"machine" validate:"omitempty,max=64"`
	Triggers []string `yaml:"triggers" json:"triggers" validate:"dive,required,max=128"`
}

// TriggerSpec is a standalone trigger registration. EntityType may be left
// empty; such entries are registered as unresolved and reported at startup.
type TriggerSpec struct {
	EntityType string `yaml:"entity_type" json:"entity_type" validate:"max=64"`
	Name       string `yaml:"name" json:"name" validate:"required,max=128"`
}

// Manifest describes the entity types served by one deployment
type Manifest struct {
	Machines []MachineSpec `yaml:"machines" json:"machines" validate:"dive"`
	Entities []EntitySpec  `yaml:"entities" json:"entities" validate:"dive"`
	Triggers []TriggerSpec `yaml:"triggers" json:"triggers" validate:"dive"`
}

// LoadManifest reads and validates the manifest at path
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxManifestSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	if len(data) > maxManifestSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidManifest, maxManifestSize)
	}
	return ParseManifest(data)
}

// ParseManifest decodes YAML and validates the result. Unknown fields are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks field constraints and cross references: entity types,
// prefixes and machine keys are unique, every referenced machine is either
// declared inline or built in, and default states appear in the edge table.
func (m *Manifest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	var problems []string

	machines := make(map[string]bool)
	for _, def := range core.BuiltinLifecycles() {
		machines[def.Key] = true
	}
	inline := make(map[string]bool)
	for _, ms := range m.Machines {
		if inline[ms.Key] {
			problems = append(problems, fmt.Sprintf("machine %q declared twice", ms.Key))
			continue
		}
		if machines[ms.Key] {
			problems = append(problems, fmt.Sprintf("machine %q collides with a built-in lifecycle", ms.Key))
		}
		inline[ms.Key] = true
		machines[ms.Key] = true
		if !ms.mentions(ms.DefaultState) {
			problems = append(problems, fmt.Sprintf("machine %q: default state %q is not reachable by any edge", ms.Key, ms.DefaultState))
		}
	}

	types := make(map[string]bool)
	prefixes := make(map[string]bool)
	for _, es := range m.Entities {
		if types[es.Type] {
			problems = append(problems, fmt.Sprintf("entity type %q declared twice", es.Type))
		}
		types[es.Type] = true
		if prefixes[es.Prefix] {
			problems = append(problems, fmt.Sprintf("prefix %q used by more than one entity", es.Prefix))
		}
		prefixes[es.Prefix] = true
		if es.Machine != "" && !machines[es.Machine] {
			problems = append(problems, fmt.Sprintf("entity %q references unknown machine %q", es.Type, es.Machine))
		}
	}

	for _, es := range m.Entities {
		for _, name := range es.Triggers {
			if core.ValidateTriggerName(name) != nil {
				problems = append(problems, fmt.Sprintf("entity %q: trigger %q must not contain ':'", es.Type, name))
			}
		}
	}
	for _, ts := range m.Triggers {
		if core.ValidateTriggerName(ts.Name) != nil {
			problems = append(problems, fmt.Sprintf("trigger %q must not contain ':'", ts.Name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidManifest, strings.Join(problems, "; "))
	}
	return nil
}

func (ms MachineSpec) mentions(state string) bool {
	for _, e := range ms.Edges {
		if e.From == state || e.To == state {
			return true
		}
	}
	return false
}

// Definition converts ms into a core machine definition
func (ms MachineSpec) Definition() core.MachineDefinition {
	def := core.MachineDefinition{
		Key:          ms.Key,
		StateField:   ms.StateField,
		ActionField:  ms.ActionField,
		DefaultState: core.State(ms.DefaultState),
		Edges:        make([]core.Edge, 0, len(ms.Edges)),
	}
	for _, e := range ms.Edges {
		def.Edges = append(def.Edges, core.Edge{
			Action: core.Action(e.Action),
			From:   core.State(e.From),
			To:     core.State(e.To),
		})
	}
	return def
}

// MachineDefinitions returns every inline machine as a core definition
func (m *Manifest) MachineDefinitions() []core.MachineDefinition {
	defs := make([]core.MachineDefinition, 0, len(m.Machines))
	for _, ms := range m.Machines {
		defs = append(defs, ms.Definition())
	}
	return defs
}

// DefaultManifest declares the entities backed by the built-in lifecycles
func DefaultManifest() *Manifest {
	return &Manifest{
		Entities: []EntitySpec{
			{Type: "Alert", Prefix: "ALR-", Machine: core.AlertLifecycle().Key},
			{Type: "Order", Prefix: "ORD-", Machine: core.OrderLifecycle().Key},
		},
	}
}
