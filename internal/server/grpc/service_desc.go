package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lotus.admin.v1.StudentAdmin"

// Method names of the admin service.
const (
	MethodCreateStudent      = "CreateStudent"
	MethodUpdateStudent      = "UpdateStudent"
	MethodDeleteStudent      = "DeleteStudent"
	MethodGetStudent         = "GetStudent"
	MethodListStudents       = "ListStudents"
	MethodSearchStudents     = "SearchStudents"
	MethodSuggestStudents    = "SuggestStudents"
	MethodRebuildProjections = "RebuildProjections"
)

// StudentAdminServer is the server API of the admin service.
// Every request and response is a google.protobuf.Struct.
type StudentAdminServer interface {
	CreateStudent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateStudent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteStudent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStudent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListStudents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchStudents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SuggestStudents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RebuildProjections(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structMethod func(StudentAdminServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary(name string, call structMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(StudentAdminServer)
			if ic == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// StudentAdminServiceDesc describes the admin service for grpc.Server.
var StudentAdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StudentAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodCreateStudent, StudentAdminServer.CreateStudent),
		unary(MethodUpdateStudent, StudentAdminServer.UpdateStudent),
		unary(MethodDeleteStudent, StudentAdminServer.DeleteStudent),
		unary(MethodGetStudent, StudentAdminServer.GetStudent),
		unary(MethodListStudents, StudentAdminServer.ListStudents),
		unary(MethodSearchStudents, StudentAdminServer.SearchStudents),
		unary(MethodSuggestStudents, StudentAdminServer.SuggestStudents),
		unary(MethodRebuildProjections, StudentAdminServer.RebuildProjections),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lotus/admin/v1/student_admin.proto",
}

// RegisterStudentAdminServer registers srv on s.
func RegisterStudentAdminServer(s grpc.ServiceRegistrar, srv StudentAdminServer) {
	s.RegisterService(&StudentAdminServiceDesc, srv)
}

// StudentAdminClient calls the admin service.
type StudentAdminClient struct {
	cc grpc.ClientConnInterface
}

// NewStudentAdminClient wraps an established connection.
func NewStudentAdminClient(cc grpc.ClientConnInterface) *StudentAdminClient {
	return &StudentAdminClient{cc: cc}
}

// Call invokes method by its short name, e.g. MethodGetStudent.
func (c *StudentAdminClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StudentAdminClient) CreateStudent(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodCreateStudent, in, opts...)
}

func (c *StudentAdminClient) UpdateStudent(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodUpdateStudent, in, opts...)
}

func (c *StudentAdminClient) DeleteStudent(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodDeleteStudent, in, opts...)
}

func (c *StudentAdminClient) GetStudent(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodGetStudent, in, opts...)
}

func (c *StudentAdminClient) ListStudents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodListStudents, in, opts...)
}

func (c *StudentAdminClient) SearchStudents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodSearchStudents, in, opts...)
}

func (c *StudentAdminClient) SuggestStudents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodSuggestStudents, in, opts...)
}

func (c *StudentAdminClient) RebuildProjections(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodRebuildProjections, in, opts...)
}
