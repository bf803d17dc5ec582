package driver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hackohio/solverd/pkg/smt"
)

// Responder answers one command line of an in-memory solver. Returning
// ok=false makes the solver exit without replying, like a crash.
type Responder func(line string) (reply string, ok bool)

// QueryResponder acknowledges every command and answers satisfiability
// queries with verdict.
func QueryResponder(verdict string) Responder {
	return func(line string) (string, bool) {
		if smt.IsQuery(smt.RawCommand(line)) {
			return verdict, true
		}
		return Ack, true
	}
}

// PipeSpawner runs solvers in memory behind io.Pipes. The byte streams and
// the codec are the same as for OS processes, which makes it suitable for
// tests and dry runs. Echo commands are answered before the responder sees
// them.
type PipeSpawner struct {
	// NewResponder builds the responder for the n-th spawned process
	// (0-based). Nil answers every query with "unknown".
	NewResponder func(n int) Responder

	// Fail is consulted before launch; a non-nil error fails the spawn.
	Fail func(n int) error

	TerminationGrace time.Duration
	Logger           *slog.Logger

	seq atomic.Int64
}

// Spawned returns how many processes were requested so far.
func (s *PipeSpawner) Spawned() int { return int(s.seq.Load()) }

func (s *PipeSpawner) Spawn(ctx context.Context, flavor smt.Flavor) (*Process, error) {
	n := int(s.seq.Add(1) - 1)
	if s.Fail != nil {
		if err := s.Fail(n); err != nil {
			return nil, &SpawnError{Flavor: flavor, Err: err}
		}
	}
	resp := QueryResponder("unknown")
	if s.NewResponder != nil {
		resp = s.NewResponder(n)
	}
	grace := s.TerminationGrace
	if grace <= 0 {
		grace = time.Second
	}

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	served := make(chan struct{})
	killed := make(chan struct{})
	exited := make(chan struct{})
	var killOnce sync.Once
	go servePipe(inR, outW, resp, served)
	go func() {
		// A forced signal cannot be ignored, even by a responder that blocks.
		select {
		case <-served:
		case <-killed:
		}
		close(exited)
	}()

	p := newProcess(processOpts{
		name:   fmt.Sprintf("pipe#%d", n),
		flavor: flavor,
		stdin:  inW,
		stdout: outR,
		exited: exited,
		signal: func(force bool) {
			_ = inR.CloseWithError(ErrProcessExited)
			_ = outW.CloseWithError(ErrProcessExited)
			if force {
				killOnce.Do(func() { close(killed) })
			}
		},
		grace: grace,
		log:   s.Logger,
	})
	if err := Configure(ctx, p); err != nil {
		_ = p.Terminate()
		return nil, &SpawnError{Flavor: flavor, Err: err}
	}
	return p, nil
}

func servePipe(in *io.PipeReader, out *io.PipeWriter, resp Responder, exited chan<- struct{}) {
	defer close(exited)
	defer out.Close()
	defer in.Close()

	// Replies are buffered like an OS pipe: a client that has not read the
	// previous reply can still write its next command.
	replies := make(chan string, 64)
	written := make(chan struct{})
	go func() {
		defer close(written)
		for r := range replies {
			if _, err := io.WriteString(out, r); err != nil {
				for range replies {
				}
				return
			}
		}
	}()
	defer func() {
		close(replies)
		<-written
	}()

	br := bufio.NewReader(in)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		reply, ok := echoed(line)
		if !ok {
			reply, ok = resp(line)
		}
		if !ok {
			return
		}
		replies <- reply + "\n"
	}
}

// echoed answers (echo "...") the way z3 does, with the bare string.
func echoed(line string) (string, bool) {
	arg, ok := strings.CutPrefix(line, "(echo ")
	if !ok {
		return "", false
	}
	arg, ok = strings.CutSuffix(arg, ")")
	if !ok || len(arg) < 2 || arg[0] != '"' || arg[len(arg)-1] != '"' {
		return "", false
	}
	return unquote(arg), true
}
