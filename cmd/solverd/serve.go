package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	solverv1 "hackohio/solverd/api/solver/v1"
	"hackohio/solverd/internal/config"
	"hackohio/solverd/internal/service"
	"hackohio/solverd/internal/telemetry"
	"hackohio/solverd/pkg/driver"
	"hackohio/solverd/pkg/pool"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		socket      string
		metricsAddr string
		size        int
		features    []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the solver pool over gRPC on a unix socket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("socket") {
				cfg.Server.Socket = socket
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Server.MetricsAddr = metricsAddr
			}
			if cmd.Flags().Changed("size") {
				cfg.Pool.Size = size
			}
			cfg.Server.Features = append(cfg.Server.Features, features...)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), root, cfg)
		},
	}
	cmd.Flags().StringVar(&socket, "socket", "", "unix socket path (overrides server.socket)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address (overrides server.metrics_addr)")
	cmd.Flags().IntVar(&size, "size", 0, "number of solver processes (overrides pool.size)")
	cmd.Flags().StringSliceVar(&features, "features", nil, "extra feature names reported by Discover")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, cfg config.Config) error {
	log, err := root.logger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	tp, shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing, version, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown", slog.String("error", err.Error()))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	spawner, release, err := root.spawner(cfg, log)
	if err != nil {
		return err
	}
	defer release()
	if es, ok := spawner.(*driver.ExecSpawner); ok {
		registerSpawnerMetrics(reg, es)
	}

	opts, err := cfg.PoolOptions(spawner)
	if err != nil {
		return err
	}
	opts.Logger = log
	opts.Registerer = reg
	opts.TracerProvider = tp
	p, err := pool.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("start pool: %w", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("pool close", slog.String("error", err.Error()))
		}
	}()

	l, err := listenUnix(cfg.Server.Socket)
	if err != nil {
		return err
	}
	defer l.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler(otelgrpc.WithTracerProvider(tp))))
	impl := service.NewSolverServer(p, cfg.Server.MaxBatch, log,
		append([]string{"check-batch"}, cfg.Server.Features...),
		mergeMetadata(cfg.Server.Metadata, map[string]string{"impl": "pool", "version": version}),
	)
	solverv1.RegisterSolverServer(grpcServer, impl)
	// Enable server reflection for grpcurl and other tools
	reflection.Register(grpcServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("gRPC solver service listening", slog.String("socket", cfg.Server.Socket))
		return grpcServer.Serve(l)
	})
	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("metrics listening", slog.String("addr", cfg.Server.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("stopping gRPC service")
		grpcServer.GracefulStop()
		if metricsSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(sctx)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// listenUnix replaces a stale socket file and listens on path.
func listenUnix(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	_ = os.Chmod(path, 0o766)
	return l, nil
}

func registerSpawnerMetrics(reg prometheus.Registerer, s *driver.ExecSpawner) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "solverd",
			Subsystem: "driver",
			Name:      "active_processes",
			Help:      "Number of solver processes that have not exited",
		}, func() float64 { return float64(s.Metrics().Active) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "solverd",
			Subsystem: "driver",
			Name:      "spawned_total",
			Help:      "Solver processes started and configured",
		}, func() float64 { return float64(s.Metrics().Spawned) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "solverd",
			Subsystem: "driver",
			Name:      "spawn_failures_total",
			Help:      "Solver launches that failed before the handshake completed",
		}, func() float64 { return float64(s.Metrics().Failed) }),
	)
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}
