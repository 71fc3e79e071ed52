package manager

import (
	"context"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
	"github.com/starbridge/observatoryd/internal/protocol"
)

// Solver runs plate solves on the single-flight worker. The contract is
// identical for the online and offline flavors; the adapter is chosen at
// construction.
type Solver struct {
	base
	solver device.Solver

	result *device.SolveResult
}

// NewSolver creates a solver manager around the given adapter. Solvers
// have no hardware connection; they are Ready from the start.
func NewSolver(name string, backend device.Backend, cfg Config, solver device.Solver, logger *zap.Logger) *Solver {
	identity := device.Identity{
		ID:      string(device.KindSolver) + ":" + name,
		Name:    name,
		Kind:    device.KindSolver,
		Backend: backend,
	}
	m := &Solver{
		base:   newBase(identity, cfg, logger),
		solver: solver,
	}
	m.state = device.Ready
	return m
}

// Solve starts a solve on the worker. Abort cancels the adapter's
// context; the online flavor abandons its poll loop, the offline flavor
// kills the solver process.
func (m *Solver) Solve(params device.SolveParams) error {
	if params.ImagePath == "" && params.Image == nil {
		return errs.New(errs.InvalidArgument, "either an image buffer or an image path is required")
	}
	return m.startJob("remoteSolveImage", func(ctx context.Context, j *job) *protocol.Response {
		const event = "remoteSolveImage"
		solveCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-j.abort:
				cancel()
			case <-solveCtx.Done():
			}
		}()

		result, err := m.solver.Solve(solveCtx, params)
		if err != nil {
			if j.aborted {
				return abortedResponse(event, "solve")
			}
			return protocol.Err(event, err)
		}
		m.mu.Lock()
		m.result = result
		m.mu.Unlock()
		return protocol.OK(event, "field solved", result)
	})
}

// AbortSolve cancels the running solve.
func (m *Solver) AbortSolve() error {
	return m.abortJob()
}

// LastResult serves the most recent solution.
func (m *Solver) LastResult() (*device.SolveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result == nil {
		return nil, errs.New(errs.InvalidArgument, "no completed solve to fetch")
	}
	return m.result, nil
}
