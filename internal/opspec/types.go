// Package opspec defines operation schemas: for every operation kind the
// editor supports (curve, fillet, boolean, ...) a schema names its
// parameters, their types, which are required, and how many permanent
// items a commit produces.
//
// Schemas are written in CUE and compiled with the CUE Go API. Factories
// validate their parameters against the compiled schema: update is a no-op
// until the required set is present, commit fails with InvalidParameters.
package opspec

import (
	"fmt"

	"cuelang.org/go/cue/token"
)

// ParamType constrains a parameter's value type.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeNumber ParamType = "number" // accepts int or float
	TypeInt    ParamType = "int"
	TypeBool   ParamType = "bool"
	TypeVec    ParamType = "vec" // point/direction, 3 components
	TypeArray  ParamType = "array"
	TypeObject ParamType = "object"
)

// validParamTypes is the closed set of recognized parameter types.
var validParamTypes = map[ParamType]bool{
	TypeString: true,
	TypeNumber: true,
	TypeInt:    true,
	TypeBool:   true,
	TypeVec:    true,
	TypeArray:  true,
	TypeObject: true,
}

// ParamSpec describes one parameter of an operation.
type ParamSpec struct {
	// Name is the parameter key in the factory's parameter object.
	Name string

	// Type constrains the parameter value.
	Type ParamType

	// Required parameters must be present before commit succeeds.
	Required bool
}

// OpSpec is the compiled schema of one operation kind.
type OpSpec struct {
	// Kind is the operation identifier (registry key).
	Kind string

	// Title is the human-readable name, used for undo labels.
	Title string

	// Params holds parameter specs in declaration order.
	Params []ParamSpec

	// Outputs is the number of permanent items a commit produces.
	// Most operations produce one; a boolean with keep-tools may produce
	// several.
	Outputs int
}

// Param returns the spec for a named parameter.
func (s *OpSpec) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// CompileError reports a schema compilation failure with CUE position
// information when available.
type CompileError struct {
	// Field is the schema field that failed (e.g. "params", "outputs").
	Field string

	// Message describes the failure.
	Message string

	// Pos is the CUE source position, if known.
	Pos token.Pos
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
