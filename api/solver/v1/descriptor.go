package solverv1

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// File_solver_v1_solver_proto describes the Solver service. It is
// registered in protoregistry.GlobalFiles so that server reflection can
// serve it.
var File_solver_v1_solver_proto protoreflect.FileDescriptor

func init() {
	structFile := (&structpb.Struct{}).ProtoReflect().Descriptor().ParentFile()
	emptyFile := (&emptypb.Empty{}).ProtoReflect().Descriptor().ParentFile()
	structName := "." + string((&structpb.Struct{}).ProtoReflect().Descriptor().FullName())
	emptyName := "." + string((&emptypb.Empty{}).ProtoReflect().Descriptor().FullName())

	fdp := &descriptorpb.FileDescriptorProto{
		Name:       proto.String("solver/v1/solver.proto"),
		Package:    proto.String("solver.v1"),
		Dependency: []string{emptyFile.Path(), structFile.Path()},
		Syntax:     proto.String("proto3"),
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("hackohio/solverd/api/solver/v1;solverv1"),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("Solver"),
			Method: []*descriptorpb.MethodDescriptorProto{
				{
					Name:       proto.String("CheckBatch"),
					InputType:  proto.String(structName),
					OutputType: proto.String(structName),
				},
				{
					Name:       proto.String("Discover"),
					InputType:  proto.String(emptyName),
					OutputType: proto.String(structName),
				},
			},
		}},
	}
	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		panic(err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(err)
	}
	File_solver_v1_solver_proto = fd
}
