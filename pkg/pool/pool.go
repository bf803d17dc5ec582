// Package pool runs batches of scripts on a fixed set of solver processes.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"hackohio/solverd/pkg/driver"
	"hackohio/solverd/pkg/smt"
)

// ErrPoolClosed is returned for submissions after shutdown began, and is the
// message of results for tasks that were still queued at shutdown.
var ErrPoolClosed = errors.New("solver pool closed")

// Isolation selects what a worker does between two tasks on one process.
type Isolation int

const (
	// IsolationReset sends (reset-assertions) before every task except the
	// first one on a fresh process.
	IsolationReset Isolation = iota
	// IsolationNone lets scripts see earlier scripts' declarations.
	IsolationNone
)

// Options configures a Pool.
type Options struct {
	// Name labels metrics and logs; default "default".
	Name string

	Flavor smt.Flavor
	// Size is the number of solver processes and workers.
	Size int
	// Spawner launches the solver processes.
	Spawner driver.Spawner

	Isolation Isolation

	// QueryTimeout bounds one task; the solver is killed and respawned when
	// it expires. Zero disables the limit.
	QueryTimeout time.Duration

	// RespawnInterval is the minimum time between two respawns on one
	// worker; default 500ms.
	RespawnInterval time.Duration

	// DrainTimeout bounds how long Close waits for in-flight tasks before
	// killing their solvers; default 30s, negative waits forever.
	DrainTimeout time.Duration

	Logger         *slog.Logger
	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider
}

func (o *Options) setDefaults() {
	if o.Name == "" {
		o.Name = "default"
	}
	if o.RespawnInterval <= 0 {
		o.RespawnInterval = 500 * time.Millisecond
	}
	if o.DrainTimeout == 0 {
		o.DrainTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.TracerProvider == nil {
		o.TracerProvider = otel.GetTracerProvider()
	}
}

// Pair is one script of a batch with its outcome.
type Pair struct {
	Script smt.Script
	Result smt.Result
}

// Pool dispatches scripts to a fixed set of solver processes, each owned by
// exactly one worker goroutine.
type Pool struct {
	opts    Options
	queue   *queue
	workers []*worker
	wg      sync.WaitGroup

	// runCtx outlives callers; cancelling it aborts in-flight exchanges.
	runCtx    context.Context
	cancelRun context.CancelFunc

	log     *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	closeOnce sync.Once
	closeErr  error
	closing   atomic.Bool

	inFlight  atomic.Int64
	completed atomic.Uint64
	respawns  atomic.Uint64
}

// New spawns opts.Size solver processes concurrently and starts one worker
// per process. If any spawn fails, the processes already started are
// terminated and the spawn error is returned.
func New(ctx context.Context, opts Options) (*Pool, error) {
	if opts.Size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", opts.Size)
	}
	if opts.Spawner == nil {
		return nil, errors.New("pool requires a spawner")
	}
	opts.setDefaults()

	p := &Pool{
		opts:    opts,
		queue:   newQueue(),
		log:     opts.Logger.With(slog.String("pool", opts.Name), slog.String("flavor", opts.Flavor.String())),
		metrics: NewMetrics(opts.Registerer),
		tracer:  opts.TracerProvider.Tracer("hackohio/solverd/pool"),
	}

	procs := make([]*driver.Process, opts.Size)
	g, gctx := errgroup.WithContext(ctx)
	for i := range procs {
		g.Go(func() error {
			proc, err := opts.Spawner.Spawn(gctx, opts.Flavor)
			p.metrics.recordSpawn(opts.Name, "startup", err)
			if err != nil {
				return err
			}
			procs[i] = proc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		terminateAll(procs)
		p.log.Error("pool startup failed", slog.String("error", err.Error()))
		return nil, err
	}

	p.runCtx, p.cancelRun = context.WithCancel(context.Background())
	p.workers = make([]*worker, opts.Size)
	for i, proc := range procs {
		w := &worker{
			id:      i,
			pool:    p,
			clean:   true,
			limiter: rate.NewLimiter(rate.Every(opts.RespawnInterval), 1),
		}
		w.proc.Store(proc)
		p.workers[i] = w
	}
	p.wg.Add(len(p.workers))
	for _, w := range p.workers {
		go w.run()
	}
	p.log.Info("solver pool started", slog.Int("size", opts.Size))
	return p, nil
}

// WithSolverPool starts a pool, runs body with it and closes the pool on
// every exit path of body, including panics.
func WithSolverPool[R any](ctx context.Context, opts Options, body func(ctx context.Context, p *Pool) (R, error)) (res R, err error) {
	p, err := New(ctx, opts)
	if err != nil {
		return res, err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return body(ctx, p)
}

// SubmitBatch enqueues one task per script and waits for all of them. The
// pairs come back in input order whatever order the workers finished in.
// It fails with ErrPoolClosed if shutdown has begun, and with ctx.Err() if
// ctx ends first; cancelling ctx also aborts the batch's unfinished tasks.
func (p *Pool) SubmitBatch(ctx context.Context, scripts []smt.Script) ([]Pair, error) {
	tasks := make([]*Task, len(scripts))
	for i, s := range scripts {
		tasks[i] = newTask(ctx, s)
	}
	now := time.Now()
	for _, t := range tasks {
		t.enqueued = now
	}
	if err := p.queue.push(tasks...); err != nil {
		return nil, err
	}
	p.metrics.QueueDepth.WithLabelValues(p.opts.Name).Set(float64(p.queue.len()))

	out := make([]Pair, len(scripts))
	for i, t := range tasks {
		res, err := t.handle.wait(ctx)
		if err != nil {
			return nil, err
		}
		out[i] = Pair{Script: scripts[i], Result: res}
	}
	return out, nil
}

// Submit runs a single script.
func (p *Pool) Submit(ctx context.Context, script smt.Script) (smt.Result, error) {
	pairs, err := p.SubmitBatch(ctx, []smt.Script{script})
	if err != nil {
		return smt.Result{}, err
	}
	return pairs[0].Result, nil
}

// Close stops accepting work, fails queued tasks with ErrPoolClosed, lets
// in-flight tasks finish (up to DrainTimeout), then terminates every solver.
// It is idempotent.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.closing.Store(true)
		pending := p.queue.close()
		for _, t := range pending {
			if t.handle.fulfill(smt.Error(ErrPoolClosed.Error())) {
				p.metrics.TasksTotal.WithLabelValues(p.opts.Name, smt.StatusError.String()).Inc()
			}
		}
		p.metrics.QueueDepth.WithLabelValues(p.opts.Name).Set(0)
		p.log.Info("solver pool closing",
			slog.Int("abandoned", len(pending)),
			slog.Int64("in_flight", p.inFlight.Load()),
		)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		if p.opts.DrainTimeout > 0 {
			t := time.NewTimer(p.opts.DrainTimeout)
			select {
			case <-done:
			case <-t.C:
				p.log.Warn("drain timeout, aborting in-flight tasks")
				p.cancelRun()
				<-done
			}
			t.Stop()
		} else {
			<-done
		}
		p.cancelRun()

		procs := make([]*driver.Process, 0, len(p.workers))
		for _, w := range p.workers {
			procs = append(procs, w.proc.Load())
		}
		p.closeErr = terminateAll(procs)
		p.log.Info("solver pool closed", slog.Uint64("completed", p.completed.Load()))
	})
	return p.closeErr
}

// terminateAll terminates the non-nil processes in parallel.
func terminateAll(procs []*driver.Process) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, proc := range procs {
		if proc == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := proc.Terminate(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Size is the configured number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Flavor is the solver flavor every process of the pool runs.
func (p *Pool) Flavor() smt.Flavor { return p.opts.Flavor }

// Closed reports whether shutdown has begun.
func (p *Pool) Closed() bool { return p.closing.Load() }

// Stats is a point-in-time view of the pool.
type Stats struct {
	Size      int
	Queued    int
	InFlight  int64
	Completed uint64
	Respawns  uint64
	Alive     int
}

func (p *Pool) Stats() Stats {
	s := Stats{
		Size:      len(p.workers),
		Queued:    p.queue.len(),
		InFlight:  p.inFlight.Load(),
		Completed: p.completed.Load(),
		Respawns:  p.respawns.Load(),
	}
	for _, w := range p.workers {
		if proc := w.proc.Load(); proc != nil && proc.Alive() {
			s.Alive++
		}
	}
	return s
}
