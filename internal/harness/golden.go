package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/chiselcad/chisel/internal/geom"
)

// CanonicalTrace serializes a result deterministically: the final scene
// snapshot plus the ordered trace, all in canonical JSON. Equal runs
// produce identical bytes, so golden files diff cleanly.
func (r *Result) CanonicalTrace() ([]byte, error) {
	stateBytes, err := r.FinalState.CanonicalBytes()
	if err != nil {
		return nil, fmt.Errorf("final state: %w", err)
	}

	nameBytes, err := geom.MarshalCanonical(r.ScenarioName)
	if err != nil {
		return nil, fmt.Errorf("scenario name: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(`{"final_state":`)
	buf.Write(stateBytes)
	buf.WriteString(`,"scenario_name":`)
	buf.Write(nameBytes)
	buf.WriteString(`,"trace":[`)
	for i, ev := range r.Trace {
		if i > 0 {
			buf.WriteByte(',')
		}
		evBytes, err := geom.MarshalCanonical(ev.toCanonicalMap())
		if err != nil {
			return nil, fmt.Errorf("trace[%d]: %w", i, err)
		}
		buf.Write(evBytes)
	}
	buf.WriteString(`]}`)
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its canonical trace
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	traceJSON, err := result.CanonicalTrace()
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)

	return result, nil
}
