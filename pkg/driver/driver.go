// Package driver runs SMT-LIB solvers as child processes and talks to them
// one command line at a time.
package driver

import (
	"context"

	"hackohio/solverd/pkg/smt"
)

// Spawner launches configured solver processes. A returned Process has
// already acknowledged the print-success handshake.
type Spawner interface {
	Spawn(ctx context.Context, flavor smt.Flavor) (*Process, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(ctx context.Context, flavor smt.Flavor) (*Process, error)

func (f SpawnerFunc) Spawn(ctx context.Context, flavor smt.Flavor) (*Process, error) {
	return f(ctx, flavor)
}
