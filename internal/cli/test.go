package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/chiselcad/chisel/internal/harness"
)

// TestOutcome is the result of one scenario in a test batch.
type TestOutcome struct {
	Scenario string   `json:"scenario"`
	File     string   `json:"file"`
	Passed   bool     `json:"passed"`
	Errors   []string `json:"errors,omitempty"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <scenario.yaml|directory>",
		Short: "Run conformance scenarios",
		Long: `Run one scenario file, or every *.yaml scenario in a directory, and
report pass/fail per scenario. Exits non-zero if any scenario fails.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runTest(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	files, err := collectScenarioFiles(path)
	if err != nil {
		formatter.Error(ErrCodeScenario, err.Error(), nil)
		return NewExitError(ExitCommandError, "failed to collect scenarios")
	}

	outcomes := make([]TestOutcome, 0, len(files))
	failed := 0
	for _, file := range files {
		outcome := runOneScenario(formatter, file)
		if !outcome.Passed {
			failed++
		}
		outcomes = append(outcomes, outcome)
	}

	if opts.Format == "json" {
		if err := formatter.JSON(map[string]any{
			"total":    len(outcomes),
			"failed":   failed,
			"outcomes": outcomes,
		}); err != nil {
			return err
		}
	} else {
		for _, o := range outcomes {
			status := "PASS"
			if !o.Passed {
				status = "FAIL"
			}
			formatter.Textf("%s %s (%s)", status, o.Scenario, o.File)
			for _, msg := range o.Errors {
				formatter.Textf("    %s", msg)
			}
		}
		formatter.Textf("%d scenario(s), %d failed", len(outcomes), failed)
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", failed))
	}
	return nil
}

// runOneScenario loads and runs one scenario file, folding load and run
// errors into the outcome.
func runOneScenario(formatter *OutputFormatter, file string) TestOutcome {
	outcome := TestOutcome{File: file, Scenario: filepath.Base(file)}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		outcome.Errors = []string{err.Error()}
		return outcome
	}
	outcome.Scenario = scenario.Name

	formatter.VerboseLog("Running %q from %s", scenario.Name, file)
	result, err := harness.Run(scenario)
	if err != nil {
		outcome.Errors = []string{err.Error()}
		return outcome
	}

	outcome.Passed = result.Passed()
	outcome.Errors = result.Errors
	return outcome
}

// collectScenarioFiles expands a path into scenario files.
func collectScenarioFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	matches, err := filepath.Glob(filepath.Join(path, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no scenario files found in %s", path)
	}
	sort.Strings(matches)
	return matches, nil
}
