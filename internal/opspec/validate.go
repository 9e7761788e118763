package opspec

import (
	"fmt"

	"github.com/chiselcad/chisel/internal/geom"
)

// Complete reports whether every required parameter is present. A factory
// whose parameters are not yet complete treats update as a no-op and
// refuses commit.
func (s *OpSpec) Complete(params geom.Object) bool {
	for _, p := range s.Params {
		if !p.Required {
			continue
		}
		if _, ok := params[p.Name]; !ok {
			return false
		}
	}
	return true
}

// MissingParams returns the names of required parameters not present.
func (s *OpSpec) MissingParams(params geom.Object) []string {
	var missing []string
	for _, p := range s.Params {
		if !p.Required {
			continue
		}
		if _, ok := params[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	return missing
}

// ValidateParams checks every supplied parameter against the schema:
// unknown parameters and type mismatches are errors. Missing optional
// parameters are not; use Complete for the required-set check.
func (s *OpSpec) ValidateParams(params geom.Object) error {
	for name, value := range params {
		p, ok := s.Param(name)
		if !ok {
			return fmt.Errorf("operation %s: unknown parameter %q", s.Kind, name)
		}
		if err := checkType(p.Type, value); err != nil {
			return fmt.Errorf("operation %s: parameter %q: %w", s.Kind, name, err)
		}
	}
	return nil
}

// checkType verifies a value against a parameter type.
func checkType(t ParamType, v geom.Value) error {
	switch t {
	case TypeString:
		if _, ok := v.(geom.Str); !ok {
			return fmt.Errorf("want string, got %T", v)
		}
	case TypeNumber:
		switch v.(type) {
		case geom.Num, geom.Int:
		default:
			return fmt.Errorf("want number, got %T", v)
		}
	case TypeInt:
		if _, ok := v.(geom.Int); !ok {
			return fmt.Errorf("want int, got %T", v)
		}
	case TypeBool:
		if _, ok := v.(geom.Bool); !ok {
			return fmt.Errorf("want bool, got %T", v)
		}
	case TypeVec:
		if _, err := geom.AsVec(v); err != nil {
			return fmt.Errorf("want vec: %w", err)
		}
	case TypeArray:
		if _, ok := v.(geom.Array); !ok {
			return fmt.Errorf("want array, got %T", v)
		}
	case TypeObject:
		if _, ok := v.(geom.Object); !ok {
			return fmt.Errorf("want object, got %T", v)
		}
	default:
		return fmt.Errorf("unknown parameter type %q", t)
	}
	return nil
}
