package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hackohio/solverd/internal/config"
	"hackohio/solverd/internal/logging"
	"hackohio/solverd/pkg/driver"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel, os.Stderr)

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	dryRun     bool
	verdict    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "solverd",
		Short:        "Pool of SMT solver processes behind a batch API",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to solverd.yaml (defaults apply when empty)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "override log.format (text, json)")
	root.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false, "use in-memory solvers that answer every query with --dry-run-verdict")
	root.PersistentFlags().StringVar(&opts.verdict, "dry-run-verdict", "unknown", "reply of the in-memory solvers to satisfiability queries")

	root.AddCommand(newServeCmd(opts), newCheckCmd(opts), newVersionCmd())
	return root
}

// load reads the configuration and applies the global flag overrides.
func (o *rootOptions) load() (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return cfg, err
		}
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	return cfg, cfg.Validate()
}

func (o *rootOptions) logger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format, w)
}

// spawner returns the solver launcher for cfg and a release func.
func (o *rootOptions) spawner(cfg config.Config, log *slog.Logger) (driver.Spawner, func(), error) {
	if o.dryRun {
		return &driver.PipeSpawner{
			NewResponder: func(int) driver.Responder { return driver.QueryResponder(o.verdict) },
			Logger:       log,
		}, func() {}, nil
	}
	dc := cfg.SpawnerConfig()
	dc.Logger = log
	s, err := driver.NewExecSpawner(dc)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func handleSignals(cancel context.CancelFunc, w io.Writer) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	fmt.Fprintln(w, "\nshutting down...")
	cancel()
	// A second signal skips the graceful drain.
	<-sigs
	os.Exit(130)
}
