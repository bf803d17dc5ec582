package driver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"hackohio/solverd/pkg/smt"
)

// Config controls the behavior of ExecSpawner.
type Config struct {
	// Absolute paths of allowed solver binaries. When both this and
	// AllowedBinariesFile are empty every binary on PATH may be launched.
	AllowedBinaries []string

	// Optional newline-separated allowlist file, UNIONed with AllowedBinaries
	// and reloaded when it changes on disk.
	AllowedBinariesFile string

	// Router renders argv for a flavor. Nil uses the flavor's built-in argv.
	Router RouterFunc

	// Stderr tail size in bytes; default 8192 when zero.
	StderrTailBytes int

	// Grace period between closing stdin, SIGTERM and SIGKILL on terminate.
	TerminationGrace time.Duration // default 5s

	// Upper bound for the print-success handshake.
	HandshakeTimeout time.Duration // default 10s

	// Working directory and extra environment for solver processes.
	Dir string
	Env []string

	Logger *slog.Logger
}

// ExecSpawner launches solver binaries as OS processes, each in its own
// process group.
type ExecSpawner struct {
	cfg   Config
	allow *Allowlist
	log   *slog.Logger
	seq   atomic.Uint64

	// metrics
	mActive  atomic.Int64
	mSpawned atomic.Uint64
	mFailed  atomic.Uint64
}

// NewExecSpawner creates a Spawner for real solver binaries.
func NewExecSpawner(cfg Config) (*ExecSpawner, error) {
	if cfg.StderrTailBytes <= 0 {
		cfg.StderrTailBytes = 8 << 10
	}
	if cfg.TerminationGrace <= 0 {
		cfg.TerminationGrace = 5 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Router == nil {
		cfg.Router = DefaultRouter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	allow, err := NewAllowlist(cfg.AllowedBinaries, cfg.AllowedBinariesFile, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &ExecSpawner{cfg: cfg, allow: allow, log: cfg.Logger}, nil
}

// Close stops watching the allowlist file.
func (s *ExecSpawner) Close() error {
	return s.allow.Close()
}

// Spawn starts the solver for flavor and performs the configuration handshake.
// On any failure the process is terminated before returning.
func (s *ExecSpawner) Spawn(ctx context.Context, flavor smt.Flavor) (*Process, error) {
	p, err := s.spawn(ctx, flavor)
	if err != nil {
		s.mFailed.Add(1)
		s.log.Error("solver spawn failed",
			slog.String("flavor", flavor.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	s.mSpawned.Add(1)
	return p, nil
}

func (s *ExecSpawner) spawn(ctx context.Context, flavor smt.Flavor) (*Process, error) {
	argv, err := s.cfg.Router(flavor)
	if err != nil {
		return nil, &SpawnError{Flavor: flavor, Err: err}
	}
	if len(argv) == 0 || argv[0] == "" {
		return nil, &SpawnError{Flavor: flavor, Err: errors.New("router produced empty command")}
	}
	// Resolve argv[0] and check it against the allowlist before launching.
	resolved := argv[0]
	if !filepath.IsAbs(resolved) {
		p, err := exec.LookPath(resolved)
		if err != nil {
			return nil, &SpawnError{Flavor: flavor, Path: argv[0], Err: err}
		}
		resolved = p
	}
	if s.allow.Enabled() && !s.allow.Allowed(resolved) {
		return nil, &SpawnError{Flavor: flavor, Path: resolved, Err: ErrBinaryNotAllowed}
	}

	cmd := exec.Command(resolved, argv[1:]...)
	// Own process group so TERM/KILL reach helper processes too.
	configureCommandProcess(cmd)
	cmd.Dir = s.cfg.Dir
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Flavor: flavor, Path: resolved, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	// os.Pipe rather than StdoutPipe: Wait must not close the read end
	// while a worker is still reading from it.
	outR, outW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, &SpawnError{Flavor: flavor, Path: resolved, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		closeAll(outR, outW)
		return nil, &SpawnError{Flavor: flavor, Path: resolved, Err: fmt.Errorf("stderr pipe: %w", err)}
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		closeAll(outR, outW, errR, errW)
		return nil, &SpawnError{Flavor: flavor, Path: resolved, Err: err}
	}
	closeAll(outW, errW)

	s.mActive.Add(1)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		defer s.mActive.Add(-1)
		_ = cmd.Wait()
	}()

	errTail := newTailBuffer(s.cfg.StderrTailBytes)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		ioCopyMulti(errR, errTail)
	}()

	pid := cmd.Process.Pid
	name := fmt.Sprintf("%s#%d", flavor.Executable(), s.seq.Add(1))
	p := newProcess(processOpts{
		name:    name,
		flavor:  flavor,
		pid:     pid,
		stdin:   stdin,
		stdout:  outR,
		stderr:  errTail,
		closers: []io.Closer{errR},
		drained: drained,
		exited:  exited,
		signal:  func(force bool) { signalCommandProcess(cmd, force) },
		grace:   s.cfg.TerminationGrace,
		log:     s.log,
	})

	s.log.Info("solver started",
		slog.String("process", name),
		slog.String("path", resolved),
		slog.Int("pid", pid),
		slog.Int("args_len", len(argv)-1),
	)

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	if err := Configure(hctx, p); err != nil {
		_ = p.Terminate()
		return nil, &SpawnError{Flavor: flavor, Path: resolved, Err: err, Stderr: p.StderrTail()}
	}
	return p, nil
}

func closeAll(cs ...io.Closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}

// --- Helpers: tail buffer, stream copy ---

type tailBuffer struct {
	b    []byte
	size int
	mu   sync.Mutex
}

func newTailBuffer(n int) *tailBuffer {
	if n <= 0 {
		n = 8 << 10
	}
	return &tailBuffer{b: make([]byte, 0, n), size: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(p) >= t.size {
		// keep only last size bytes of p
		t.b = append(t.b[:0], p[len(p)-t.size:]...)
		return len(p), nil
	}
	if len(t.b)+len(p) > t.size {
		drop := len(t.b) + len(p) - t.size
		t.b = t.b[drop:]
	}
	t.b = append(t.b, p...)
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.b)
}

// ioCopyMulti copies r to multiple writers until EOF or a read error.
func ioCopyMulti(r io.Reader, ws ...io.Writer) {
	br := bufio.NewReader(r)
	buf := make([]byte, 32<<10)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			for _, w := range ws {
				_, _ = w.Write(buf[:n])
			}
		}
		if err != nil {
			return
		}
	}
}

// Metrics exposes a snapshot of spawner counters.
type Metrics struct {
	Active  int64
	Spawned uint64
	Failed  uint64
}

func (s *ExecSpawner) Metrics() Metrics {
	return Metrics{
		Active:  s.mActive.Load(),
		Spawned: s.mSpawned.Load(),
		Failed:  s.mFailed.Load(),
	}
}
