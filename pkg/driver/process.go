package driver

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"hackohio/solverd/pkg/smt"
)

// Process is one running solver and its three streams. It is not safe for
// concurrent exchanges; a pool binds each Process to exactly one worker.
type Process struct {
	name   string
	flavor smt.Flavor
	pid    int

	stdin  io.WriteCloser
	w      *bufio.Writer
	r      *bufio.Reader
	stderr *tailBuffer

	// closers are released after the process has exited (stdout/stderr read ends).
	closers []io.Closer
	drained <-chan struct{}
	exited  <-chan struct{}
	signal  func(force bool)

	grace time.Duration
	log   *slog.Logger

	busy     atomic.Bool
	dead     atomic.Bool
	termOnce sync.Once
	termErr  error
}

type processOpts struct {
	name    string
	flavor  smt.Flavor
	pid     int
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  *tailBuffer
	closers []io.Closer
	drained <-chan struct{}
	exited  <-chan struct{}
	signal  func(force bool)
	grace   time.Duration
	log     *slog.Logger
}

func newProcess(s processOpts) *Process {
	if s.grace <= 0 {
		s.grace = 5 * time.Second
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.stderr == nil {
		s.stderr = newTailBuffer(0)
	}
	return &Process{
		name:    s.name,
		flavor:  s.flavor,
		pid:     s.pid,
		stdin:   s.stdin,
		w:       bufio.NewWriter(s.stdin),
		r:       bufio.NewReader(s.stdout),
		stderr:  s.stderr,
		closers: append([]io.Closer{s.stdout}, s.closers...),
		drained: s.drained,
		exited:  s.exited,
		signal:  s.signal,
		grace:   s.grace,
		log:     s.log.With(slog.String("process", s.name)),
	}
}

// Name identifies the process in logs and errors.
func (p *Process) Name() string { return p.name }

func (p *Process) Flavor() smt.Flavor { return p.flavor }

// Pid is the OS process id, or 0 for in-memory solvers.
func (p *Process) Pid() int { return p.pid }

// StderrTail returns the last bytes the solver wrote to stderr.
func (p *Process) StderrTail() string { return p.stderr.String() }

// Alive reports whether the process can still take commands.
func (p *Process) Alive() bool {
	if p.dead.Load() {
		return false
	}
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Exited is closed once the process has terminated.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// Kill stops the process immediately and unblocks any pending read.
func (p *Process) Kill() {
	p.dead.Store(true)
	p.signal(true)
	for _, c := range p.closers {
		_ = c.Close()
	}
}

// Terminate closes stdin and waits for the solver to exit on EOF, escalating
// to SIGTERM and then SIGKILL after the grace period. It is idempotent and
// returns nil for a process that already exited.
func (p *Process) Terminate() error {
	p.termOnce.Do(func() {
		p.dead.Store(true)
		_ = p.stdin.Close()
		if !p.waitExit(p.grace) {
			p.log.Warn("solver ignored EOF, sending SIGTERM")
			p.signal(false)
			if !p.waitExit(p.grace) {
				p.log.Warn("solver ignored SIGTERM, sending SIGKILL")
				p.signal(true)
				if !p.waitExit(p.grace) {
					p.termErr = fmt.Errorf("%s: still running after SIGKILL", p.name)
				}
			}
		}
		for _, c := range p.closers {
			_ = c.Close()
		}
		if p.drained != nil {
			select {
			case <-p.drained:
			case <-time.After(p.grace):
			}
		}
		p.log.Debug("solver terminated")
	})
	return p.termErr
}

func (p *Process) waitExit(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.exited:
		return true
	case <-t.C:
		return false
	}
}
