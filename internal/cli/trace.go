package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/chiselcad/chisel/internal/store"
)

// SnapshotInfo is one snapshot-log row for output.
type SnapshotInfo struct {
	Seq   int             `json:"seq"`
	Label string          `json:"label"`
	State json.RawMessage `json:"state,omitempty"`
	Size  int             `json:"size"`
}

// SessionTrace is the snapshot history of one session.
type SessionTrace struct {
	Session   string         `json:"session"`
	Snapshots []SnapshotInfo `json:"snapshots"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	var sessionID string
	var showState bool

	cmd := &cobra.Command{
		Use:   "trace <db>",
		Short: "Inspect a snapshot log",
		Long: `Dump the snapshot history recorded in a session database written by
"chisel run --db". Every row is one state the undo history recorded:
the baseline plus one entry per committed command.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(rootOpts, args[0], sessionID, showState, cmd)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "limit output to one session id")
	cmd.Flags().BoolVar(&showState, "state", false, "include full snapshot state in the output")
	return cmd
}

func runTrace(opts *RootOptions, dbPath, sessionID string, showState bool, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if _, err := os.Stat(dbPath); err != nil {
		formatter.Error(ErrCodeDB, err.Error(), nil)
		return NewExitError(ExitCommandError, "database not found")
	}

	st, err := store.Open(dbPath)
	if err != nil {
		formatter.Error(ErrCodeDB, err.Error(), nil)
		return NewExitError(ExitCommandError, "failed to open database")
	}
	defer st.Close()

	ctx := context.Background()
	sessions := []string{sessionID}
	if sessionID == "" {
		sessions, err = st.Sessions(ctx)
		if err != nil {
			formatter.Error(ErrCodeDB, err.Error(), nil)
			return NewExitError(ExitCommandError, "failed to list sessions")
		}
	}

	traces := make([]SessionTrace, 0, len(sessions))
	for _, id := range sessions {
		recs, err := st.ListSnapshots(ctx, id)
		if err != nil {
			formatter.Error(ErrCodeDB, err.Error(), nil)
			return NewExitError(ExitCommandError, "failed to read snapshots")
		}
		trace := SessionTrace{Session: id, Snapshots: make([]SnapshotInfo, 0, len(recs))}
		for _, rec := range recs {
			info := SnapshotInfo{Seq: rec.Seq, Label: rec.Label, Size: len(rec.State)}
			if showState {
				info.State = json.RawMessage(rec.State)
			}
			trace.Snapshots = append(trace.Snapshots, info)
		}
		traces = append(traces, trace)
	}

	if opts.Format == "json" {
		return formatter.JSON(map[string]any{"sessions": traces})
	}

	for _, trace := range traces {
		formatter.Textf("session %s: %d snapshot(s)", trace.Session, len(trace.Snapshots))
		for _, info := range trace.Snapshots {
			formatter.Textf("  %3d  %-20s %d bytes", info.Seq, info.Label, info.Size)
			if showState {
				formatter.Textf("       %s", string(info.State))
			}
		}
	}
	return nil
}
