package service_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/reflection"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	solverv1 "hackohio/solverd/api/solver/v1"
	"hackohio/solverd/internal/service"
	"hackohio/solverd/pkg/driver"
	"hackohio/solverd/pkg/pool"
	"hackohio/solverd/pkg/smt"
)

func startServer(t *testing.T, p service.Pool, maxBatch int) solverv1.SolverClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	solverv1.RegisterSolverServer(srv, service.NewSolverServer(p, maxBatch, nil, []string{"check-batch"}, map[string]string{"impl": "pool"}))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return solverv1.NewSolverClient(conn)
}

func newPool(t *testing.T) *pool.Pool {
	t.Helper()
	spawner := &driver.PipeSpawner{
		NewResponder: func(int) driver.Responder {
			return func(line string) (string, bool) {
				switch line {
				case "(assert false)":
					return driver.Ack, true
				case "(check-sat-assuming (a))":
					return "sat", true
				case "(oops)":
					return `(error "unknown command")`, true
				}
				return driver.QueryResponder("unsat")(line)
			}
		},
	}
	p, err := pool.New(context.Background(), pool.Options{Name: "svc", Flavor: smt.CVC5, Size: 2, Spawner: spawner})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestCheckBatchRoundTrip(t *testing.T) {
	client := startServer(t, newPool(t), 0)

	req, err := solverv1.NewCheckBatchRequest([]smt.Script{
		smt.NewScript("(check-sat-assuming (a))"),
		smt.NewScript("(assert false)", "(check-sat)"),
		smt.NewScript("(oops)", "(check-sat)"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reply, err := client.CheckBatch(ctx, req)
	require.NoError(t, err)
	results, err := solverv1.DecodeCheckBatchReply(reply)
	require.NoError(t, err)
	assert.Equal(t, []smt.Result{
		smt.Sat(),
		smt.Unsat(),
		smt.Error(`(error "unknown command")`),
	}, results)
}

func TestCheckBatchAcceptsScriptText(t *testing.T) {
	client := startServer(t, newPool(t), 0)

	req, err := structpb.NewStruct(map[string]any{
		"scripts": []any{"; comment\n(assert false)\n(check-sat)\n"},
	})
	require.NoError(t, err)
	reply, err := client.CheckBatch(context.Background(), req)
	require.NoError(t, err)
	results, err := solverv1.DecodeCheckBatchReply(reply)
	require.NoError(t, err)
	assert.Equal(t, []smt.Result{smt.Unsat()}, results)
}

func TestCheckBatchNormalizesListEntries(t *testing.T) {
	client := startServer(t, newPool(t), 0)

	req, err := structpb.NewStruct(map[string]any{
		"scripts": []any{[]any{"(assert\n  false) ; trivially", "(check-sat)"}},
	})
	require.NoError(t, err)
	reply, err := client.CheckBatch(context.Background(), req)
	require.NoError(t, err)
	results, err := solverv1.DecodeCheckBatchReply(reply)
	require.NoError(t, err)
	assert.Equal(t, []smt.Result{smt.Unsat()}, results)
}

func TestReflectionDescribesSolverService(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	solverv1.RegisterSolverServer(srv, service.NewSolverServer(newPool(t), 0, nil, nil, nil))
	reflection.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := reflectionpb.NewServerReflectionClient(conn).ServerReflectionInfo(ctx)
	require.NoError(t, err)
	require.NoError(t, stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: "solver.v1.Solver"},
	}))
	resp, err := stream.Recv()
	require.NoError(t, err)
	require.Nil(t, resp.GetErrorResponse(), "reflection error: %v", resp.GetErrorResponse())

	var found bool
	for _, raw := range resp.GetFileDescriptorResponse().GetFileDescriptorProto() {
		fd := &descriptorpb.FileDescriptorProto{}
		require.NoError(t, proto.Unmarshal(raw, fd))
		if fd.GetName() != solverv1.File_solver_v1_solver_proto.Path() {
			continue
		}
		found = true
		require.Len(t, fd.GetService(), 1)
		var methods []string
		for _, m := range fd.GetService()[0].GetMethod() {
			methods = append(methods, m.GetName())
		}
		assert.ElementsMatch(t, []string{"CheckBatch", "Discover"}, methods)
	}
	assert.True(t, found, "no descriptor for %s", solverv1.File_solver_v1_solver_proto.Path())
}

func TestCheckBatchInvalidArgument(t *testing.T) {
	client := startServer(t, newPool(t), 2)

	bad := []map[string]any{
		{},
		{"scripts": "not a list"},
		{"scripts": []any{float64(3)}},
		{"scripts": []any{[]any{true}}},
		{"scripts": []any{"(check-sat"}},
		{"scripts": []any{"(check-sat)", "(check-sat)", "(check-sat)"}},
		{"scripts": []any{[]any{"(assert a) (assert b)", "(check-sat)"}}},
		{"scripts": []any{[]any{"", "(check-sat)"}}},
		{"scripts": []any{[]any{"; nothing", "(check-sat)"}}},
	}
	for _, fields := range bad {
		req, err := structpb.NewStruct(fields)
		require.NoError(t, err)
		_, err = client.CheckBatch(context.Background(), req)
		assert.Equal(t, codes.InvalidArgument, status.Code(err), "request %v", fields)
	}
}

func TestCheckBatchOnClosedPool(t *testing.T) {
	p := newPool(t)
	client := startServer(t, p, 0)
	require.NoError(t, p.Close())

	req, err := solverv1.NewCheckBatchRequest([]smt.Script{smt.NewScript("(check-sat)")})
	require.NoError(t, err)
	_, err = client.CheckBatch(context.Background(), req)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestDiscover(t *testing.T) {
	client := startServer(t, newPool(t), 0)

	reply, err := client.Discover(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	m := reply.AsMap()
	assert.Equal(t, "cvc5", m["flavor"])
	assert.Equal(t, float64(2), m["size"])
	assert.Equal(t, float64(2), m["alive"])
	assert.Equal(t, []any{"check-batch"}, m["features"])
	assert.Equal(t, map[string]any{"impl": "pool"}, m["metadata"])
}
