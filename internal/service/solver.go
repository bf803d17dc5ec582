package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	solverv1 "hackohio/solverd/api/solver/v1"
	"hackohio/solverd/internal/logging"
	"hackohio/solverd/pkg/pool"
	"hackohio/solverd/pkg/smt"
)

// Pool is the part of *pool.Pool the service needs.
type Pool interface {
	SubmitBatch(ctx context.Context, scripts []smt.Script) ([]pool.Pair, error)
	Stats() pool.Stats
	Flavor() smt.Flavor
}

// SolverServer adapts a Pool to the gRPC service.
type SolverServer struct {
	pool     Pool
	maxBatch int
	log      *slog.Logger
	// Optional discovery data
	Features []string
	Metadata map[string]string
	solverv1.UnimplementedSolverServer
}

// NewSolverServer serves p. maxBatch <= 0 means no limit on scripts per call.
func NewSolverServer(p Pool, maxBatch int, log *slog.Logger, features []string, metadata map[string]string) *SolverServer {
	if log == nil {
		log = slog.Default()
	}
	return &SolverServer{pool: p, maxBatch: maxBatch, log: log, Features: features, Metadata: metadata}
}

// CheckBatch bridges the gRPC request to Pool.SubmitBatch.
func (s *SolverServer) CheckBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	scripts, err := solverv1.DecodeCheckBatchRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.maxBatch > 0 && len(scripts) > s.maxBatch {
		return nil, status.Errorf(codes.InvalidArgument, "batch of %d scripts exceeds the limit of %d", len(scripts), s.maxBatch)
	}

	log := logging.WithTrace(ctx, s.log)
	start := time.Now()
	pairs, err := s.pool.SubmitBatch(ctx, scripts)
	if err != nil {
		log.Warn("batch failed", slog.Int("scripts", len(scripts)), slog.String("error", err.Error()))
		return nil, toStatus(err)
	}
	results := make([]smt.Result, len(pairs))
	failed := 0
	for i, p := range pairs {
		results[i] = p.Result
		if p.Result.IsError() {
			failed++
		}
	}
	log.Debug("batch done",
		slog.Int("scripts", len(scripts)),
		slog.Int("errors", failed),
		slog.Duration("elapsed", time.Since(start)),
	)
	reply, err := solverv1.NewCheckBatchReply(results)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return reply, nil
}

// Discover returns the pool's shape and load plus static capabilities.
func (s *SolverServer) Discover(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.pool.Stats()
	features := make([]any, len(s.Features))
	for i, f := range s.Features {
		features[i] = f
	}
	metadata := make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		metadata[k] = v
	}
	reply, err := structpb.NewStruct(map[string]any{
		"flavor":    s.pool.Flavor().String(),
		"size":      st.Size,
		"alive":     st.Alive,
		"queued":    st.Queued,
		"in_flight": st.InFlight,
		"completed": st.Completed,
		"respawns":  st.Respawns,
		"features":  features,
		"metadata":  metadata,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return reply, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, pool.ErrPoolClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
