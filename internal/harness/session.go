package harness

import (
	"context"
	"fmt"

	"github.com/chiselcad/chisel/internal/command"
	"github.com/chiselcad/chisel/internal/contour"
	"github.com/chiselcad/chisel/internal/factory"
	"github.com/chiselcad/chisel/internal/geom"
	"github.com/chiselcad/chisel/internal/history"
	"github.com/chiselcad/chisel/internal/scene"
	"github.com/chiselcad/chisel/internal/task"
	"github.com/chiselcad/chisel/internal/testutil"
)

// Session wires the full editor core: scene store, operation registry,
// command executor, undo history and derived contours. It owns the
// executor goroutine; Close drains it.
type Session struct {
	Store    *scene.Store
	Registry *factory.Registry
	History  *history.History
	Contour  *contour.Manager
	Exec     *command.Executor

	kernel  geom.Kernel
	cancel  context.CancelFunc
	execErr chan error
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	kernel   geom.Kernel
	ids      scene.IDGenerator
	registry *factory.Registry
	log      history.Log
}

// WithKernel sets the geometry kernel. The default is the scripted echo
// kernel, which makes sessions deterministic without a real kernel.
func WithKernel(k geom.Kernel) SessionOption {
	return func(c *sessionConfig) { c.kernel = k }
}

// WithIDGenerator sets the item id generator.
func WithIDGenerator(g scene.IDGenerator) SessionOption {
	return func(c *sessionConfig) { c.ids = g }
}

// WithRegistry sets the operation registry.
func WithRegistry(r *factory.Registry) SessionOption {
	return func(c *sessionConfig) { c.registry = r }
}

// WithHistoryLog persists recorded states to the given log.
func WithHistoryLog(l history.Log) SessionOption {
	return func(c *sessionConfig) { c.log = l }
}

// NewSession builds a session and starts its executor.
func NewSession(opts ...SessionOption) (*Session, error) {
	cfg := &sessionConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.kernel == nil {
		cfg.kernel = testutil.NewStubKernel()
	}
	if cfg.ids == nil {
		cfg.ids = scene.NewSequenceGenerator("item")
	}
	if cfg.registry == nil {
		reg, err := factory.DefaultRegistry()
		if err != nil {
			return nil, fmt.Errorf("session registry: %w", err)
		}
		cfg.registry = reg
	}

	store := scene.NewStore(cfg.ids)

	var hopts []history.Option
	if cfg.log != nil {
		hopts = append(hopts, history.WithLog(cfg.log))
	}
	hist, err := history.New(store, hopts...)
	if err != nil {
		return nil, fmt.Errorf("session history: %w", err)
	}

	cm := contour.NewManager(nil)
	cm.Attach(store)

	exec := command.NewExecutor(command.WithDefaultCommand(func() command.Command {
		return command.IdleCommand("selection")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		Store:    store,
		Registry: cfg.registry,
		History:  hist,
		Contour:  cm,
		Exec:     exec,
		kernel:   cfg.kernel,
		cancel:   cancel,
		execErr:  make(chan error, 1),
	}
	go func() { s.execErr <- exec.Run(ctx) }()
	return s, nil
}

// Close drains the executor and stops its goroutine.
func (s *Session) Close() error {
	s.Exec.Stop()
	err := <-s.execErr
	s.cancel()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// OpRequest describes one scripted operation.
type OpRequest struct {
	Kind    string
	Params  geom.Object
	Updates int
	Action  string // ActionCommit (default) or ActionCancel
	Target  string
}

// OpResult reports a finished operation.
type OpResult struct {
	Committed bool
	Items     []string
}

// RunOperation executes one operation as a command: create the factory,
// preview, then commit or cancel. The factory is adopted by the command
// node, so previews cannot outlive the command on any path. Committed
// operations are recorded in history.
func (s *Session) RunOperation(ctx context.Context, req OpRequest) (*OpResult, error) {
	res := &OpResult{}
	body := func(ctx context.Context, node *task.Node) error {
		f, err := s.Registry.New(req.Kind, s.kernel, s.Store)
		if err != nil {
			return err
		}
		node.Adopt(f)

		if len(req.Params) > 0 {
			if err := f.SetParams(req.Params); err != nil {
				return err
			}
		}
		if req.Target != "" {
			f.SetTarget(req.Target)
		}
		for i := 0; i < req.Updates; i++ {
			if err := f.Update(ctx); err != nil {
				return err
			}
		}

		if req.Action == ActionCancel {
			return f.Cancel(ctx)
		}
		items, err := f.Commit(ctx)
		if err != nil {
			return err
		}
		for _, it := range items {
			res.Items = append(res.Items, it.ID)
		}
		res.Committed = true
		return nil
	}

	h, err := s.Exec.Submit(command.Func{CommandName: req.Kind, Body: body})
	if err != nil {
		return nil, err
	}
	if err := h.Wait(ctx); err != nil {
		return nil, err
	}
	if res.Committed {
		if err := s.History.Record(req.Kind); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Undo cancels the active command and restores the previous recorded
// state.
func (s *Session) Undo(ctx context.Context) error {
	s.Exec.CancelActive()
	h, err := s.Exec.Submit(history.UndoCommand(s.History))
	if err != nil {
		return err
	}
	return h.Wait(ctx)
}

// Redo cancels the active command and restores the next recorded state.
func (s *Session) Redo(ctx context.Context) error {
	s.Exec.CancelActive()
	h, err := s.Exec.Submit(history.RedoCommand(s.History))
	if err != nil {
		return err
	}
	return h.Wait(ctx)
}

// Select replaces the selection.
func (s *Session) Select(ctx context.Context, ids []string) error {
	h, err := s.Exec.Submit(command.Func{
		CommandName: "select",
		Body: func(ctx context.Context, _ *task.Node) error {
			s.Store.ClearSelection()
			for _, id := range ids {
				if err := s.Store.Select(id); err != nil {
					return err
				}
			}
			return nil
		},
	})
	if err != nil {
		return err
	}
	return h.Wait(ctx)
}

// ClearSelection empties the selection.
func (s *Session) ClearSelection(ctx context.Context) error {
	return s.Select(ctx, nil)
}
