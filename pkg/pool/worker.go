package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"hackohio/solverd/pkg/driver"
	"hackohio/solverd/pkg/smt"
)

// worker owns one solver process for its whole life and runs one task at a
// time on it. proc is only swapped by the worker itself; other goroutines
// read it for stats and teardown.
type worker struct {
	id      int
	pool    *Pool
	proc    atomic.Pointer[driver.Process]
	clean   bool // nothing has run on proc since it was spawned
	limiter *rate.Limiter
}

func (w *worker) run() {
	defer w.pool.wg.Done()
	for {
		t, ok := w.pool.queue.pop()
		if !ok {
			return
		}
		w.handle(t)
	}
}

func (w *worker) handle(t *Task) {
	p := w.pool
	name := p.opts.Name
	p.metrics.QueueDepth.WithLabelValues(name).Set(float64(p.queue.len()))
	p.metrics.QueueWaitSeconds.WithLabelValues(name).Observe(time.Since(t.enqueued).Seconds())
	p.metrics.BusyWorkers.WithLabelValues(name).Inc()
	p.inFlight.Add(1)
	start := time.Now()

	ctx, span := p.tracer.Start(t.ctx, "solver.task",
		trace.WithAttributes(
			attribute.String("solver.pool", name),
			attribute.String("solver.task_id", t.ID),
			attribute.Int("solver.worker", w.id),
			attribute.Int("solver.commands", len(t.Script)),
		),
	)
	res := w.execute(ctx, t)
	span.SetAttributes(attribute.String("solver.status", res.Status.String()))
	if res.IsError() {
		span.SetStatus(codes.Error, res.Message)
	}
	span.End()

	p.inFlight.Add(-1)
	p.completed.Add(1)
	p.metrics.BusyWorkers.WithLabelValues(name).Dec()
	p.metrics.TasksTotal.WithLabelValues(name, res.Status.String()).Inc()
	p.metrics.TaskDurationSeconds.WithLabelValues(name, res.Status.String()).Observe(time.Since(start).Seconds())

	// Stats and metrics are final before the submitter wakes up.
	t.handle.fulfill(res)
}

// execute runs the script on the worker's process and checks that the reply
// stream is still aligned afterwards. Failures become Error results.
func (w *worker) execute(spanCtx context.Context, t *Task) (res smt.Result) {
	defer func() {
		if r := recover(); r != nil {
			w.pool.log.Error("task panicked", slog.String("task", t.ID), slog.Any("panic", r))
			if proc := w.proc.Load(); proc != nil {
				proc.Kill()
			}
			res = smt.Errorf("internal error: %v", r)
		}
	}()

	if len(t.Script) == 0 {
		return smt.Error("empty script")
	}
	if err := t.ctx.Err(); err != nil {
		return smt.Errorf("cancelled before start: %v", err)
	}

	// Exchanges follow the pool's lifetime and the submitter's context, but
	// keep the span from the submitter.
	ctx, cancel := context.WithCancel(w.pool.runCtx)
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()
	if w.pool.opts.QueryTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, w.pool.opts.QueryTimeout)
		defer cancelTimeout()
	}
	ctx = trace.ContextWithSpan(ctx, trace.SpanFromContext(spanCtx))

	proc, err := w.ensureProcess(ctx)
	if err != nil {
		return smt.Errorf("solver unavailable: %v", err)
	}
	if !w.clean && w.pool.opts.Isolation == IsolationReset {
		if err := driver.Reset(ctx, proc); err != nil {
			var perr *driver.ProtocolError
			if !errors.As(err, &perr) {
				return w.failure(t, err)
			}
			// Reset killed the process; start the task on a fresh one.
			w.pool.log.Warn("reset rejected, replacing solver",
				slog.String("task", t.ID),
				slog.Int("worker", w.id),
				slog.String("response", perr.Reason()),
			)
			if proc, err = w.ensureProcess(ctx); err != nil {
				return smt.Errorf("solver unavailable: %v", err)
			}
		}
	}
	w.clean = false

	res = w.exchange(ctx, proc, t)
	if !proc.Alive() {
		return res
	}
	// Every task ends on a marker so a stray reply line can never be read
	// as the next task's answer.
	if err := driver.Sync(ctx, proc, t.ID); err != nil {
		w.pool.log.Warn("solver reply stream out of sync",
			slog.String("task", t.ID),
			slog.Int("worker", w.id),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, driver.ErrOutOfSync) && !res.IsError() {
			return smt.Error(err.Error())
		}
	}
	return res
}

// exchange sends the script on proc: every command but the last must be
// acknowledged, and the reply to the last one is classified.
func (w *worker) exchange(ctx context.Context, proc *driver.Process, t *Task) smt.Result {
	last := len(t.Script) - 1
	if err := driver.SendScript(ctx, proc, t.Script[:last]); err != nil {
		return w.failure(t, err)
	}
	resp, err := driver.SendCommand(ctx, proc, t.Script[last])
	if err != nil {
		return w.failure(t, err)
	}
	if resp == driver.Ack && !smt.IsQuery(t.Script[last]) {
		return smt.Error("script does not end with a satisfiability query")
	}
	return smt.Classify(resp)
}

// failure maps an exchange error onto the task result. A rejected command
// leaves the process usable; anything else means it is gone.
func (w *worker) failure(t *Task, err error) smt.Result {
	var perr *driver.ProtocolError
	if errors.As(err, &perr) {
		w.pool.log.Debug("command rejected",
			slog.String("task", t.ID),
			slog.String("command", perr.Command),
			slog.String("response", perr.Reason()),
		)
		return smt.Error(perr.Reason())
	}
	w.pool.log.Warn("solver exchange failed",
		slog.String("task", t.ID),
		slog.Int("worker", w.id),
		slog.String("error", err.Error()),
	)
	return smt.Error(err.Error())
}

// ensureProcess returns a live process, respawning a dead one. Respawns are
// throttled so a crashing solver cannot spin the worker.
func (w *worker) ensureProcess(ctx context.Context) (*driver.Process, error) {
	proc := w.proc.Load()
	if proc != nil && proc.Alive() {
		return proc, nil
	}
	if proc != nil {
		_ = proc.Terminate()
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("respawn throttled: %w", err)
	}
	p := w.pool
	fresh, err := p.opts.Spawner.Spawn(ctx, p.opts.Flavor)
	p.metrics.recordSpawn(p.opts.Name, "respawn", err)
	if err != nil {
		w.proc.Store(nil)
		return nil, err
	}
	w.proc.Store(fresh)
	w.clean = true
	p.respawns.Add(1)
	p.log.Info("solver respawned", slog.Int("worker", w.id), slog.String("process", fresh.Name()))
	return fresh, nil
}
