package cli

import (
	"github.com/spf13/cobra"

	"github.com/chiselcad/chisel/internal/opspec"
)

// OperationSummary describes one validated operation schema.
type OperationSummary struct {
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	Params   int    `json:"params"`
	Required int    `json:"required"`
	Outputs  int    `json:"outputs"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate operation schemas",
		Long: `Validate a directory of CUE operation schemas.

Compiles every operation definition and reports the operation set, or
the first schema error encountered.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	specs, err := opspec.LoadDir(dir)
	if err != nil {
		formatter.Error(ErrCodeSpec, err.Error(), nil)
		return NewExitError(ExitFailure, "schema validation failed")
	}

	formatter.VerboseLog("Compiled %d operation(s) from %s", len(specs), dir)

	summaries := make([]OperationSummary, 0, len(specs))
	for _, s := range specs {
		required := 0
		for _, p := range s.Params {
			if p.Required {
				required++
			}
		}
		summaries = append(summaries, OperationSummary{
			Kind:     s.Kind,
			Title:    s.Title,
			Params:   len(s.Params),
			Required: required,
			Outputs:  s.Outputs,
		})
	}

	if opts.Format == "json" {
		return formatter.JSON(map[string]any{"operations": summaries})
	}

	formatter.Textf("Valid: %d operation(s)", len(summaries))
	for _, s := range summaries {
		formatter.Textf("  %-12s %q  params=%d required=%d outputs=%d",
			s.Kind, s.Title, s.Params, s.Required, s.Outputs)
	}
	return nil
}
