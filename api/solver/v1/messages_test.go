package solverv1_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/known/structpb"

	solverv1 "hackohio/solverd/api/solver/v1"
	"hackohio/solverd/pkg/smt"
)

func TestServiceDescriptorIsRegistered(t *testing.T) {
	d, err := protoregistry.GlobalFiles.FindDescriptorByName(protoreflect.FullName(solverv1.Solver_ServiceDesc.ServiceName))
	require.NoError(t, err)
	svc, ok := d.(protoreflect.ServiceDescriptor)
	require.True(t, ok)
	assert.Equal(t, solverv1.Solver_ServiceDesc.Metadata, svc.ParentFile().Path())

	require.Equal(t, len(solverv1.Solver_ServiceDesc.Methods), svc.Methods().Len())
	for _, m := range solverv1.Solver_ServiceDesc.Methods {
		md := svc.Methods().ByName(protoreflect.Name(m.MethodName))
		require.NotNil(t, md, m.MethodName)
		assert.Equal(t, protoreflect.FullName("google.protobuf.Struct"), md.Output().FullName())
	}
}

func TestDecodeListEntriesHoldOneCommandEach(t *testing.T) {
	req, err := structpb.NewStruct(map[string]any{
		"scripts": []any{[]any{"(declare-const x Int) ; the only one", "(assert\n  (> x 0))", "(check-sat)"}},
	})
	require.NoError(t, err)
	scripts, err := solverv1.DecodeCheckBatchRequest(req)
	require.NoError(t, err)
	assert.Equal(t, []smt.Script{smt.NewScript("(declare-const x Int)", "(assert (> x 0))", "(check-sat)")}, scripts)

	for _, entry := range []string{"", "  ", "; comment", "(assert a) (assert b)", "(check-sat"} {
		req, err := structpb.NewStruct(map[string]any{"scripts": []any{[]any{entry}}})
		require.NoError(t, err)
		_, err = solverv1.DecodeCheckBatchRequest(req)
		assert.Error(t, err, "entry %q", entry)
	}
}
