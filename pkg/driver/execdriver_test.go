package driver_test

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	d "hackohio/solverd/pkg/driver"
	"hackohio/solverd/pkg/smt"
)

// fakeSolverScript behaves like an SMT solver with print-success enabled.
// Echo replies are quoted, as cvc5 prints them; (double) answers twice.
const fakeSolverScript = `while IFS= read -r line; do
  case "$line" in
    '(echo "'*) s=${line#'(echo "'}; s=${s%'")'}; printf '"%s"\n' "$s" ;;
    "(double)") echo success; echo success ;;
    "(check-sat"*) echo sat ;;
    "(bad"*) echo '(error "bad arity")' ;;
    "(die)") echo 'fatal' >&2; exit 3 ;;
    *) echo success ;;
  esac
done`

func lookupOrSkip(t *testing.T, name string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skip on windows: needs a POSIX shell")
	}
	p, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not found in PATH; skipping", name)
	}
	if !filepath.IsAbs(p) {
		t.Skipf("%s resolved to non-absolute path %q; skipping", name, p)
	}
	return p
}

func newShellSpawner(t *testing.T, cfg d.Config) *d.ExecSpawner {
	t.Helper()
	if cfg.TerminationGrace == 0 {
		cfg.TerminationGrace = 200 * time.Millisecond
	}
	s, err := d.NewExecSpawner(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestExecSpawner_ShellSolver(t *testing.T) {
	sh := lookupOrSkip(t, "sh")
	s := newShellSpawner(t, d.Config{AllowedBinaries: []string{sh}})

	p, err := s.Spawn(context.Background(), smt.Custom("sh", "-c", fakeSolverScript))
	require.NoError(t, err)
	defer p.Terminate()
	assert.NotZero(t, p.Pid())

	err = d.SendScript(context.Background(), p, smt.NewScript("(declare-const x Int)", "(assert (> x 0))"))
	require.NoError(t, err)
	resp, err := d.SendCommand(context.Background(), p, smt.RawCommand("(check-sat)"))
	require.NoError(t, err)
	assert.Equal(t, "sat", resp)

	err = d.SendScript(context.Background(), p, smt.NewScript("(bad 1 2)", "(assert true)"))
	var perr *d.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, `(error "bad arity")`, perr.Response)

	require.NoError(t, p.Terminate())
	assert.False(t, p.Alive())
	assert.Equal(t, int64(0), s.Metrics().Active)
	assert.Equal(t, uint64(1), s.Metrics().Spawned)
}

func TestExecSpawner_ProcessExitIsIOError(t *testing.T) {
	sh := lookupOrSkip(t, "sh")
	s := newShellSpawner(t, d.Config{AllowedBinaries: []string{sh}})

	p, err := s.Spawn(context.Background(), smt.Custom("sh", "-c", fakeSolverScript))
	require.NoError(t, err)
	defer p.Terminate()

	_, err = d.SendCommand(context.Background(), p, smt.RawCommand("(die)"))
	var ioErr *d.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.ErrorIs(t, err, d.ErrProcessExited)
	assert.False(t, p.Alive())
}

func TestExecSpawner_SyncDetectsStrayReplies(t *testing.T) {
	sh := lookupOrSkip(t, "sh")
	s := newShellSpawner(t, d.Config{AllowedBinaries: []string{sh}})

	p, err := s.Spawn(context.Background(), smt.Custom("sh", "-c", fakeSolverScript))
	require.NoError(t, err)
	defer p.Terminate()

	require.NoError(t, d.Sync(context.Background(), p, "first"))

	resp, err := d.SendCommand(context.Background(), p, smt.RawCommand("(double)"))
	require.NoError(t, err)
	assert.Equal(t, d.Ack, resp)
	err = d.Sync(context.Background(), p, "second")
	assert.ErrorIs(t, err, d.ErrOutOfSync)
	assert.False(t, p.Alive())
}

func TestExecSpawner_NotAllowed(t *testing.T) {
	sh := lookupOrSkip(t, "sh")
	s := newShellSpawner(t, d.Config{AllowedBinaries: []string{"/nonexistent/solver"}})

	_, err := s.Spawn(context.Background(), smt.Custom(sh, "-c", fakeSolverScript))
	assert.ErrorIs(t, err, d.ErrBinaryNotAllowed)
	assert.Equal(t, uint64(1), s.Metrics().Failed)
}

func TestExecSpawner_MissingBinary(t *testing.T) {
	s := newShellSpawner(t, d.Config{})
	_, err := s.Spawn(context.Background(), smt.Custom("definitely-not-a-solver-binary"))
	var serr *d.SpawnError
	require.ErrorAs(t, err, &serr)
}

func TestExecSpawner_HandshakeRejected(t *testing.T) {
	lookupOrSkip(t, "sh")
	s := newShellSpawner(t, d.Config{})

	_, err := s.Spawn(context.Background(), smt.Custom("sh", "-c", `read -r l; echo 'unsupported option' >&2; echo '(error "unsupported")'; read -r l`))
	var serr *d.SpawnError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, d.ErrNotAcknowledged)
	assert.Contains(t, serr.Error(), "unsupported")
	assert.Equal(t, int64(0), s.Metrics().Active)
}

func TestExecSpawner_HandshakeTimeout(t *testing.T) {
	lookupOrSkip(t, "sh")
	s := newShellSpawner(t, d.Config{HandshakeTimeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := s.Spawn(context.Background(), smt.Custom("sh", "-c", "sleep 30"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestTerminateEscalatesToKill(t *testing.T) {
	lookupOrSkip(t, "sh")
	s := newShellSpawner(t, d.Config{TerminationGrace: 100 * time.Millisecond})

	// Acknowledge the handshake, then ignore EOF and SIGTERM.
	p, err := s.Spawn(context.Background(), smt.Custom("sh", "-c", `read -r l; echo success; trap '' TERM; while :; do sleep 1; done`))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, p.Terminate())
	assert.Less(t, time.Since(start), 5*time.Second)
	select {
	case <-p.Exited():
	default:
		t.Fatalf("process survived Terminate")
	}
}

func TestTemplateRouter(t *testing.T) {
	router := d.NewTemplateRouter(map[string][]string{
		"z3":     {"/opt/z3/bin/{executable}", "-in", "-smt2", "-T:{param:timeout_s}"},
		"mysolv": {"{executable}", "--{flavor}", "{param:missing}"},
	}, map[string]string{"timeout_s": "30"})

	argv, err := router(smt.Flavor{Kind: smt.KindZ3, ExtraArgs: []string{"-v:1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/z3/bin/z3", "-in", "-smt2", "-T:30", "-v:1"}, argv)

	argv, err = router(smt.Custom("mysolv", "-q"))
	require.NoError(t, err)
	assert.Equal(t, []string{"mysolv", "--custom", "", "-q"}, argv)

	argv, err = router(smt.CVC5)
	require.NoError(t, err)
	assert.Equal(t, []string{"cvc5", "--lang=smt2", "--incremental"}, argv)
}

func TestTemplateRouterDoesNotRescanValues(t *testing.T) {
	router := d.NewTemplateRouter(map[string][]string{
		"z3": {"{executable}", "{param:loop}", "x{param:loop}{flavor}", "{unknown}", "{a{param:n}}", "{param:open"},
	}, map[string]string{"loop": "{param:loop}", "n": "7"})

	done := make(chan []string, 1)
	go func() {
		argv, err := router(smt.Z3)
		assert.NoError(t, err)
		done <- argv
	}()
	select {
	case argv := <-done:
		assert.Equal(t, []string{"z3", "{param:loop}", "x{param:loop}z3", "{unknown}", "{a7}", "{param:open"}, argv)
	case <-time.After(5 * time.Second):
		t.Fatal("template expansion did not terminate")
	}
}

func TestDefaultRouterEmptyCustom(t *testing.T) {
	_, err := d.DefaultRouter(smt.Custom(""))
	assert.Error(t, err)
}
