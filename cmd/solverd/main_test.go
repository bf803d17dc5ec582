package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"

	solverv1 "hackohio/solverd/api/solver/v1"
)

func runCLI(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeSMT2(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestCheckDryRun(t *testing.T) {
	dir := t.TempDir()
	a := writeSMT2(t, dir, "a.smt2", "(declare-const x Int)\n(assert (> x 0)) ; positive\n(check-sat)\n")
	b := writeSMT2(t, dir, "b.smt2", "(check-sat)")

	out, err := runCLI(t, context.Background(), "check", "--dry-run", "--dry-run-verdict", "unsat", "--log-level", "error", a, b)
	require.NoError(t, err)
	assert.Equal(t, a+"\tunsat\n"+b+"\tunsat\n", out)
}

func TestCheckJSONReportsFailures(t *testing.T) {
	dir := t.TempDir()
	ok := writeSMT2(t, dir, "ok.smt2", "(check-sat)")
	noQuery := writeSMT2(t, dir, "noquery.smt2", "(assert true)")

	out, err := runCLI(t, context.Background(), "check", "--dry-run", "--json", "--log-level", "error", ok, noQuery)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 scripts failed")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var first, second checkLine
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, checkLine{File: ok, Status: "unknown"}, first)
	assert.Equal(t, "error", second.Status)
	assert.Contains(t, second.Message, "satisfiability query")
}

func TestCheckRejectsMalformedFile(t *testing.T) {
	bad := writeSMT2(t, t.TempDir(), "bad.smt2", "(check-sat")
	_, err := runCLI(t, context.Background(), "check", "--dry-run", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated")
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, context.Background(), "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "solverd dev"))
}

func TestServeAndRemoteCheck(t *testing.T) {
	// unix socket paths are limited to ~100 bytes; t.TempDir can be longer.
	dir, err := os.MkdirTemp("", "solverd")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "s.grpc")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() {
		_, err := runCLI(t, ctx, "serve", "--dry-run", "--dry-run-verdict", "sat", "--size", "2", "--log-level", "error", "--socket", socket)
		served <- err
	}()
	require.Eventually(t, func() bool {
		_, err := os.Stat(socket)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	file := writeSMT2(t, dir, "q.smt2", "(assert true)\n(check-sat)\n")
	out, err := runCLI(t, context.Background(), "check", "--remote", socket, file)
	require.NoError(t, err)
	assert.Equal(t, file+"\tsat\n", out)

	conn, err := grpc.NewClient("unix://"+socket, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	reply, err := solverv1.NewSolverClient(conn).Discover(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	m := reply.AsMap()
	assert.Equal(t, float64(2), m["size"])
	assert.Equal(t, float64(1), m["completed"])
	assert.Contains(t, m["features"], "check-batch")

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}
