package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a scripted editing session: a sequence of operation,
// undo/redo, and selection steps, plus expectations on the final state.
// Scenarios drive both the conformance tests (with golden traces) and
// the `chisel run` command.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists directories of extra CUE operation schemas to load in
	// addition to the built-in set. Paths are relative to the working
	// directory unless absolute.
	Specs []string `yaml:"specs,omitempty"`

	// Steps is the scripted session.
	Steps []Step `yaml:"steps"`

	// Expect validates the final state after all steps ran.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Step is one scripted action. Exactly one directive must be set.
type Step struct {
	// Op starts an operation command of this kind.
	Op string `yaml:"op,omitempty"`

	// Params are the operation parameters (op steps).
	Params map[string]any `yaml:"params,omitempty"`

	// Updates is the number of preview updates to run before the action
	// (op steps). Zero means commit or cancel without previewing.
	Updates int `yaml:"updates,omitempty"`

	// Action ends the operation: "commit" (default) or "cancel".
	Action string `yaml:"action,omitempty"`

	// Target makes the operation replace an existing item on commit
	// (mutating operations such as transform).
	Target string `yaml:"target,omitempty"`

	// Undo undoes this many recorded states.
	Undo int `yaml:"undo,omitempty"`

	// Redo redoes this many recorded states.
	Redo int `yaml:"redo,omitempty"`

	// Select replaces the selection with these item ids.
	Select []string `yaml:"select,omitempty"`

	// ClearSelection empties the selection.
	ClearSelection bool `yaml:"clear_selection,omitempty"`
}

// Expect validates the final session state. Nil pointer fields are not
// checked.
type Expect struct {
	// Items is the expected permanent item count.
	Items *int `yaml:"items,omitempty"`

	// Temporaries is the expected temporary item count (normally 0: a
	// finished session leaks no previews).
	Temporaries *int `yaml:"temporaries,omitempty"`

	// Selection is the expected selection, sorted.
	Selection []string `yaml:"selection,omitempty"`

	// CanUndo / CanRedo check history cursor position.
	CanUndo *bool `yaml:"can_undo,omitempty"`
	CanRedo *bool `yaml:"can_redo,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected, so typos fail loudly instead of silently skipping steps.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and every
// step carries exactly one directive.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		directives := 0
		if step.Op != "" {
			directives++
		}
		if step.Undo > 0 {
			directives++
		}
		if step.Redo > 0 {
			directives++
		}
		if len(step.Select) > 0 {
			directives++
		}
		if step.ClearSelection {
			directives++
		}
		if directives != 1 {
			return fmt.Errorf("steps[%d]: exactly one of op/undo/redo/select/clear_selection is required", i)
		}

		if step.Op == "" {
			if step.Params != nil || step.Updates != 0 || step.Action != "" || step.Target != "" {
				return fmt.Errorf("steps[%d]: params/updates/action/target require op", i)
			}
			continue
		}
		switch step.Action {
		case "", ActionCommit, ActionCancel:
		default:
			return fmt.Errorf("steps[%d]: unknown action %q", i, step.Action)
		}
		if step.Updates < 0 {
			return fmt.Errorf("steps[%d]: updates must be non-negative", i)
		}
	}
	return nil
}

// Step action constants.
const (
	ActionCommit = "commit"
	ActionCancel = "cancel"
)
