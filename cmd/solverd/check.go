package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	solverv1 "hackohio/solverd/api/solver/v1"
	"hackohio/solverd/internal/config"
	"hackohio/solverd/pkg/pool"
	"hackohio/solverd/pkg/smt"
)

type checkOptions struct {
	flavor  string
	size    int
	timeout time.Duration
	remote  string
	json    bool
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	o := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check FILE...",
		Short: "Run each .smt2 file as one script and print the results in order",
		Long: `check splits every file into top-level SMT-LIB commands and runs it as one
script. The last command of a file must be a satisfiability query. Files run
concurrently on a local pool, or on a running "solverd serve" with --remote.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if o.flavor != "" {
				cfg.Solver.Flavor = o.flavor
			}
			if cmd.Flags().Changed("size") {
				cfg.Pool.Size = o.size
			}
			if cmd.Flags().Changed("timeout") {
				cfg.Pool.QueryTimeout = o.timeout
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			scripts, err := readScripts(args)
			if err != nil {
				return err
			}
			var results []smt.Result
			if o.remote != "" {
				results, err = checkRemote(cmd.Context(), o.remote, scripts)
			} else {
				results, err = checkLocal(cmd.Context(), root, cfg, scripts, cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), args, results, o.json)
		},
	}
	cmd.Flags().StringVar(&o.flavor, "flavor", "", "solver flavor: z3, cvc5, bitwuzla or an executable name (overrides solver.flavor)")
	cmd.Flags().IntVar(&o.size, "size", 0, "number of solver processes (overrides pool.size)")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "per-script timeout (overrides pool.query_timeout)")
	cmd.Flags().StringVar(&o.remote, "remote", "", "send the batch to the solverd socket at this path instead of starting a pool")
	cmd.Flags().BoolVar(&o.json, "json", false, "print one JSON object per file")
	return cmd
}

func readScripts(paths []string) ([]smt.Script, error) {
	scripts := make([]smt.Script, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		s, err := smt.SplitCommands(string(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		scripts[i] = s
	}
	return scripts, nil
}

func checkLocal(ctx context.Context, root *rootOptions, cfg config.Config, scripts []smt.Script, logOut io.Writer) ([]smt.Result, error) {
	log, err := root.logger(cfg, logOut)
	if err != nil {
		return nil, err
	}
	spawner, release, err := root.spawner(cfg, log)
	if err != nil {
		return nil, err
	}
	defer release()
	opts, err := cfg.PoolOptions(spawner)
	if err != nil {
		return nil, err
	}
	opts.Logger = log
	if opts.Size > len(scripts) {
		opts.Size = len(scripts)
	}
	return pool.WithSolverPool(ctx, opts, func(ctx context.Context, p *pool.Pool) ([]smt.Result, error) {
		pairs, err := p.SubmitBatch(ctx, scripts)
		if err != nil {
			return nil, err
		}
		out := make([]smt.Result, len(pairs))
		for i, pr := range pairs {
			out[i] = pr.Result
		}
		return out, nil
	})
}

func checkRemote(ctx context.Context, socket string, scripts []smt.Script) ([]smt.Result, error) {
	conn, err := grpc.NewClient("unix://"+socket,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req, err := solverv1.NewCheckBatchRequest(scripts)
	if err != nil {
		return nil, err
	}
	reply, err := solverv1.NewSolverClient(conn).CheckBatch(ctx, req)
	if err != nil {
		return nil, err
	}
	results, err := solverv1.DecodeCheckBatchReply(reply)
	if err != nil {
		return nil, err
	}
	if len(results) != len(scripts) {
		return nil, fmt.Errorf("server returned %d results for %d scripts", len(results), len(scripts))
	}
	return results, nil
}

type checkLine struct {
	File    string `json:"file"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func printResults(w io.Writer, files []string, results []smt.Result, asJSON bool) error {
	failed := 0
	enc := json.NewEncoder(w)
	for i, r := range results {
		if r.IsError() {
			failed++
		}
		if asJSON {
			if err := enc.Encode(checkLine{File: files[i], Status: r.Status.String(), Message: r.Message}); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", files[i], r); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scripts failed", failed, len(results))
	}
	return nil
}
