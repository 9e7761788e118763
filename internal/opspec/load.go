package opspec

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

//go:embed ops.cue
var builtinCUE []byte

var (
	builtinOnce  sync.Once
	builtinSpecs []OpSpec
	builtinErr   error
)

// Builtin returns the operation schemas embedded in the binary, compiled
// once on first use. These cover the stock operations (curve, line,
// fillet, boolean, extrude, transform).
func Builtin() ([]OpSpec, error) {
	builtinOnce.Do(func() {
		ctx := cuecontext.New()
		v := ctx.CompileBytes(builtinCUE, cue.Filename("ops.cue"))
		builtinSpecs, builtinErr = extractOperations(v)
	})
	return builtinSpecs, builtinErr
}

// LoadDir loads and compiles operation schemas from a directory of .cue
// files. Used by `chisel validate` and by deployments that extend the
// stock operation set.
func LoadDir(dir string) ([]OpSpec, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("operation spec directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	if len(cueFiles) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir, Package: "_"})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("building CUE value: %w", err)
	}

	return extractOperations(value)
}

// extractOperations compiles every entry under the "operation" struct.
func extractOperations(v cue.Value) ([]OpSpec, error) {
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("invalid CUE value: %w", err)
	}

	opsVal := v.LookupPath(cue.ParsePath("operation"))
	if !opsVal.Exists() {
		return nil, fmt.Errorf("no operations found (missing top-level \"operation\" struct)")
	}

	iter, err := opsVal.Fields()
	if err != nil {
		return nil, fmt.Errorf("iterating operations: %w", err)
	}

	var specs []OpSpec
	for iter.Next() {
		spec, cerr := CompileOperation(iter.Value())
		if cerr != nil {
			return nil, fmt.Errorf("operation %q: %w", iter.Label(), cerr)
		}
		specs = append(specs, *spec)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no operations found")
	}

	// Deterministic registry order regardless of CUE iteration order.
	sort.Slice(specs, func(i, j int) bool { return specs[i].Kind < specs[j].Kind })

	return specs, nil
}

// findCUEFiles walks the directory and returns all .cue file paths.
func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
