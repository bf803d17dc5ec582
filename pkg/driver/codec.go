package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"hackohio/solverd/pkg/smt"
)

// Ack is the reply a configured solver gives to every accepted command.
const Ack = "success"

// syncPrefix marks the echo sent after every script.
const syncPrefix = "solverd-sync "

var (
	configureCommand = smt.RawCommand("(set-option :print-success true)")
	resetCommand     = smt.RawCommand("(reset-assertions)")
)

var lineFlattener = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// render produces the single line sent for c. Comments are dropped and
// whitespace is folded. Anything that is not exactly one S-expression is
// refused: a solver answers an empty line with nothing and two commands
// with two lines, and either would shift every later reply.
func render(c smt.Command) (string, error) {
	cmds, err := smt.SplitCommands(c.String())
	if err != nil {
		return "", err
	}
	switch len(cmds) {
	case 0:
		return "", errors.New("empty command")
	case 1:
		// Line breaks can only survive inside literals.
		return lineFlattener.Replace(cmds[0].String()), nil
	default:
		return "", fmt.Errorf("%d commands on one line", len(cmds))
	}
}

// SendCommand writes one command line and reads exactly one response line.
// Cancelling ctx kills the process to unblock the read; the exchange then
// fails with an IOError. A command that does not render to exactly one
// S-expression fails with a ProtocolError and nothing is written.
func SendCommand(ctx context.Context, p *Process, cmd smt.Command) (string, error) {
	line, err := render(cmd)
	if err != nil {
		return "", &ProtocolError{Command: strings.TrimSpace(cmd.String()), Err: err}
	}
	if !p.busy.CompareAndSwap(false, true) {
		return "", &IOError{Process: p.name, Op: "send", Command: line, Err: ErrProcessBusy}
	}
	defer p.busy.Store(false)

	if err := ctx.Err(); err != nil {
		return "", &IOError{Process: p.name, Op: "send", Command: line, Err: err}
	}
	if !p.Alive() {
		return "", &IOError{Process: p.name, Op: "send", Command: line, Err: ErrProcessExited, Stderr: p.StderrTail()}
	}

	stop := context.AfterFunc(ctx, p.Kill)
	defer stop()

	if _, err := p.w.WriteString(line); err != nil {
		return "", p.ioFailure(ctx, "write", line, err)
	}
	if err := p.w.WriteByte('\n'); err != nil {
		return "", p.ioFailure(ctx, "write", line, err)
	}
	if err := p.w.Flush(); err != nil {
		return "", p.ioFailure(ctx, "flush", line, err)
	}
	resp, err := p.r.ReadString('\n')
	if err != nil {
		// A partial line followed by EOF still means the solver is gone.
		return "", p.ioFailure(ctx, "read", line, err)
	}
	return strings.TrimRight(resp, "\r\n"), nil
}

func (p *Process) ioFailure(ctx context.Context, op, line string, err error) error {
	p.dead.Store(true)
	if cerr := ctx.Err(); cerr != nil {
		err = cerr
	} else if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		err = ErrProcessExited
	}
	return &IOError{Process: p.name, Op: op, Command: line, Err: err, Stderr: p.StderrTail()}
}

// SendScript sends the commands in order and stops at the first reply that
// is not Ack. The remaining commands are never sent.
func SendScript(ctx context.Context, p *Process, script smt.Script) error {
	for _, cmd := range script {
		resp, err := SendCommand(ctx, p, cmd)
		if err != nil {
			return err
		}
		if resp != Ack {
			line, _ := render(cmd)
			return &ProtocolError{Command: line, Response: resp}
		}
	}
	return nil
}

// Sync echoes a marker carrying token and checks that the very next reply is
// that marker, bare or quoted. Any other reply means earlier commands left
// extra output behind: p is killed and the IOError wraps ErrOutOfSync.
func Sync(ctx context.Context, p *Process, token string) error {
	marker := syncPrefix + strings.ReplaceAll(token, `"`, "")
	cmd := smt.RawCommand(`(echo "` + marker + `")`)
	resp, err := SendCommand(ctx, p, cmd)
	if err != nil {
		return err
	}
	if unquote(resp) == marker {
		return nil
	}
	p.Kill()
	return &IOError{
		Process: p.name,
		Op:      "sync",
		Command: cmd.String(),
		Err:     fmt.Errorf("%w: got %q", ErrOutOfSync, resp),
		Stderr:  p.StderrTail(),
	}
}

// unquote strips one pair of SMT-LIB string quotes and undoubles "".
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}

// Configure enables print-success on p.
func Configure(ctx context.Context, p *Process) error {
	err := SendScript(ctx, p, smt.Script{configureCommand})
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return errors.Join(ErrNotAcknowledged, perr)
	}
	return err
}

// Reset drops every assertion and declaration made by earlier scripts while
// keeping solver options, including print-success. A solver that does not
// acknowledge the reset still holds earlier state, so it is killed.
func Reset(ctx context.Context, p *Process) error {
	err := SendScript(ctx, p, smt.Script{resetCommand})
	var perr *ProtocolError
	if errors.As(err, &perr) {
		p.Kill()
	}
	return err
}
