package opspec

import (
	"fmt"

	"cuelang.org/go/cue"
)

// CompileOperation parses a CUE value into an OpSpec. The CUE value should
// be the operation struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`operation: curve: { ... }`)
//	spec, err := CompileOperation(v.LookupPath(cue.ParsePath("operation.curve")))
func CompileOperation(v cue.Value) (*OpSpec, error) {
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("invalid operation value: %w", err)
	}

	spec := &OpSpec{Outputs: 1}

	// Operation kind comes from the struct label (the path selector).
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Kind = labels[len(labels)-1].String()
	}
	if spec.Kind == "" {
		return nil, &CompileError{
			Field:   "kind",
			Message: "operation kind label is required",
			Pos:     v.Pos(),
		}
	}

	// Title (required).
	titleVal := v.LookupPath(cue.ParsePath("title"))
	if !titleVal.Exists() {
		return nil, &CompileError{
			Field:   "title",
			Message: "title is required",
			Pos:     v.Pos(),
		}
	}
	title, err := titleVal.String()
	if err != nil {
		return nil, &CompileError{Field: "title", Message: err.Error(), Pos: titleVal.Pos()}
	}
	spec.Title = title

	// Params (required, at least one).
	paramsVal := v.LookupPath(cue.ParsePath("params"))
	if !paramsVal.Exists() {
		return nil, &CompileError{
			Field:   "params",
			Message: "params is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := paramsVal.Fields()
	if err != nil {
		return nil, &CompileError{Field: "params", Message: err.Error(), Pos: paramsVal.Pos()}
	}
	for iter.Next() {
		param, perr := compileParam(iter.Label(), iter.Value())
		if perr != nil {
			return nil, perr
		}
		spec.Params = append(spec.Params, param)
	}
	if len(spec.Params) == 0 {
		return nil, &CompileError{
			Field:   "params",
			Message: "at least one parameter is required",
			Pos:     paramsVal.Pos(),
		}
	}

	// Outputs (optional, default 1).
	outputsVal := v.LookupPath(cue.ParsePath("outputs"))
	if outputsVal.Exists() {
		n, oerr := outputsVal.Int64()
		if oerr != nil {
			return nil, &CompileError{Field: "outputs", Message: oerr.Error(), Pos: outputsVal.Pos()}
		}
		if n < 1 {
			return nil, &CompileError{
				Field:   "outputs",
				Message: fmt.Sprintf("outputs must be at least 1, got %d", n),
				Pos:     outputsVal.Pos(),
			}
		}
		spec.Outputs = int(n)
	}

	return spec, nil
}

// compileParam parses one parameter entry.
func compileParam(name string, v cue.Value) (ParamSpec, error) {
	param := ParamSpec{Name: name}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return ParamSpec{}, &CompileError{
			Field:   "params." + name,
			Message: "type is required",
			Pos:     v.Pos(),
		}
	}
	typeStr, err := typeVal.String()
	if err != nil {
		return ParamSpec{}, &CompileError{Field: "params." + name, Message: err.Error(), Pos: typeVal.Pos()}
	}
	pt := ParamType(typeStr)
	if !validParamTypes[pt] {
		return ParamSpec{}, &CompileError{
			Field:   "params." + name,
			Message: fmt.Sprintf("unknown parameter type %q", typeStr),
			Pos:     typeVal.Pos(),
		}
	}
	param.Type = pt

	requiredVal := v.LookupPath(cue.ParsePath("required"))
	if requiredVal.Exists() {
		required, rerr := requiredVal.Bool()
		if rerr != nil {
			return ParamSpec{}, &CompileError{Field: "params." + name, Message: rerr.Error(), Pos: requiredVal.Pos()}
		}
		param.Required = required
	}

	return param, nil
}
