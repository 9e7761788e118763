package cli

import (
	"github.com/spf13/cobra"

	"github.com/chiselcad/chisel/internal/harness"
)

// RunReport is the serializable outcome of one scenario run.
type RunReport struct {
	Scenario string           `json:"scenario"`
	Passed   bool             `json:"passed"`
	Items    int              `json:"items"`
	CanUndo  bool             `json:"can_undo"`
	CanRedo  bool             `json:"can_redo"`
	Trace    []map[string]any `json:"trace"`
	Errors   []string         `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scripted editing session",
		Long: `Run a scenario: a scripted sequence of operations, undo/redo and
selection steps over a fresh editor session. The session uses the
deterministic scripted kernel, so runs are reproducible.

With --db, the session's snapshot log is written to a SQLite file that
"chisel trace" can inspect later.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(rootOpts, args[0], dbPath, cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "persist the snapshot log to this SQLite file")
	return cmd
}

func runRun(opts *RootOptions, scenarioPath, dbPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	scenario, err := harness.LoadScenario(scenarioPath)
	if err != nil {
		formatter.Error(ErrCodeScenario, err.Error(), nil)
		return NewExitError(ExitCommandError, "failed to load scenario")
	}

	var runOpts []harness.RunOption
	if dbPath != "" {
		runOpts = append(runOpts, harness.WithSnapshotDB(dbPath))
	}

	formatter.VerboseLog("Running scenario %q (%d steps)", scenario.Name, len(scenario.Steps))
	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		formatter.Error(ErrCodeScenario, err.Error(), nil)
		return NewExitError(ExitFailure, "scenario run failed")
	}

	report := buildRunReport(result)
	if err := outputRunReport(formatter, opts, report); err != nil {
		return err
	}
	if !report.Passed {
		return NewExitError(ExitFailure, "scenario expectations failed")
	}
	return nil
}

func buildRunReport(result *harness.Result) RunReport {
	trace := make([]map[string]any, 0, len(result.Trace))
	for _, ev := range result.Trace {
		m := map[string]any{"type": ev.Type}
		if ev.ID != "" {
			m["id"] = ev.ID
		}
		if ev.Op != "" {
			m["op"] = ev.Op
		}
		if ev.Items != nil {
			m["items"] = ev.Items
		}
		trace = append(trace, m)
	}
	return RunReport{
		Scenario: result.ScenarioName,
		Passed:   result.Passed(),
		Items:    len(result.FinalState.Items),
		CanUndo:  result.CanUndo,
		CanRedo:  result.CanRedo,
		Trace:    trace,
		Errors:   result.Errors,
	}
}

func outputRunReport(formatter *OutputFormatter, opts *RootOptions, report RunReport) error {
	if opts.Format == "json" {
		return formatter.JSON(report)
	}

	status := "PASS"
	if !report.Passed {
		status = "FAIL"
	}
	formatter.Textf("%s %s: %d item(s), %d trace event(s)",
		status, report.Scenario, report.Items, len(report.Trace))
	for _, ev := range report.Trace {
		formatter.Textf("  %v", ev)
	}
	for _, msg := range report.Errors {
		formatter.Textf("  error: %s", msg)
	}
	return nil
}
