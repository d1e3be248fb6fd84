// Package grpcserver exposes the student admin API over gRPC.
package grpcserver

import (
	"context"
	"errors"

	"github.com/and161185/lotus-core/internal/convert"
	"github.com/and161185/lotus-core/internal/errs"
	"github.com/and161185/lotus-core/internal/model"
	"github.com/and161185/lotus-core/internal/service"
	"github.com/and161185/lotus-core/internal/tenant"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// StudentReader is the read side consumed by the boundary.
type StudentReader interface {
	List(ctx context.Context, f model.Filter, req model.PageRequest) (model.Page[model.ProjectionRecord], error)
	Get(ctx context.Context, id string) (*model.ProjectionRecord, error)
	Search(ctx context.Context, text string, req model.PageRequest) (model.Page[model.ProjectionRecord], error)
	Suggest(ctx context.Context, prefix string, limit int) ([]model.ProjectionRecord, error)
}

// Rebuilder replays the event log into the read models of one tenant.
type Rebuilder interface {
	Rebuild(ctx context.Context, tenantID string) (int, error)
}

// Server wires services into gRPC handlers.
type Server struct {
	commands service.CommandService
	queries  StudentReader
	rebuild  Rebuilder
	log      *zap.Logger
}

var _ StudentAdminServer = (*Server)(nil)

// New constructs a gRPC server with injected services. rebuild may be nil.
func New(commands service.CommandService, queries StudentReader, rebuild Rebuilder, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{commands: commands, queries: queries, rebuild: rebuild, log: log}
}

// --- Commands ---

// CreateStudent registers a new student. The id is server-assigned when omitted.
func (s *Server) CreateStudent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.dispatch(ctx, model.CreateStudent, in)
}

// UpdateStudent applies a partial update; absent fields stay unchanged.
func (s *Server) UpdateStudent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.dispatch(ctx, model.UpdateStudent, in)
}

// DeleteStudent deletes a student. A second delete reports NotFound.
func (s *Server) DeleteStudent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.dispatch(ctx, model.DeleteStudent, in)
}

func (s *Server) dispatch(ctx context.Context, kind model.CommandKind, in *structpb.Struct) (*structpb.Struct, error) {
	cmd, err := convert.CommandFromStruct(kind, in)
	if err != nil {
		return nil, s.fail(string(kind), err)
	}
	res, err := s.commands.Dispatch(ctx, cmd)
	if err != nil {
		return nil, s.fail(string(kind), err)
	}
	return s.render(string(kind))(convert.DispatchResultToStruct(res))
}

// --- Queries ---

// GetStudent returns one student of the caller's tenant.
func (s *Server) GetStudent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.IDFromStruct(in)
	if err != nil {
		return nil, s.fail(MethodGetStudent, err)
	}
	rec, err := s.queries.Get(ctx, id)
	if err != nil {
		return nil, s.fail(MethodGetStudent, err)
	}
	return s.render(MethodGetStudent)(convert.RecordToStruct(*rec))
}

// ListStudents pages through students matching an equality filter.
func (s *Server) ListStudents(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f, req, err := convert.ListRequestFromStruct(in)
	if err != nil {
		return nil, s.fail(MethodListStudents, err)
	}
	page, err := s.queries.List(ctx, f, req)
	if err != nil {
		return nil, s.fail(MethodListStudents, err)
	}
	return s.render(MethodListStudents)(convert.PageToStruct(page))
}

// SearchStudents runs a free-text search.
func (s *Server) SearchStudents(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	text, req, err := convert.SearchRequestFromStruct(in)
	if err != nil {
		return nil, s.fail(MethodSearchStudents, err)
	}
	page, err := s.queries.Search(ctx, text, req)
	if err != nil {
		return nil, s.fail(MethodSearchStudents, err)
	}
	return s.render(MethodSearchStudents)(convert.PageToStruct(page))
}

// SuggestStudents returns prefix matches for autocompletion.
func (s *Server) SuggestStudents(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	prefix, limit, err := convert.SuggestRequestFromStruct(in)
	if err != nil {
		return nil, s.fail(MethodSuggestStudents, err)
	}
	recs, err := s.queries.Suggest(ctx, prefix, limit)
	if err != nil {
		return nil, s.fail(MethodSuggestStudents, err)
	}
	return s.render(MethodSuggestStudents)(convert.RecordsToStruct(recs))
}

// RebuildProjections replays the caller's tenant into every sink.
func (s *Server) RebuildProjections(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.rebuild == nil {
		return nil, status.Error(codes.Unimplemented, "rebuild not configured")
	}
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, s.fail(MethodRebuildProjections, err)
	}
	n, err := s.rebuild.Rebuild(ctx, tenantID)
	if err != nil {
		return nil, s.fail(MethodRebuildProjections, err)
	}
	return s.render(MethodRebuildProjections)(structpb.NewStruct(map[string]any{
		"tenant_id":  tenantID,
		"aggregates": n,
	}))
}

// --- errors ---

func (s *Server) render(op string) func(*structpb.Struct, error) (*structpb.Struct, error) {
	return func(out *structpb.Struct, err error) (*structpb.Struct, error) {
		if err != nil {
			return nil, s.fail(op, err)
		}
		return out, nil
	}
}

// fail converts err to a status and logs the ones that hide a server fault.
func (s *Server) fail(op string, err error) error {
	st := toStatus(err)
	if status.Code(st) == codes.Internal {
		s.log.Error("request failed", zap.String("op", op), zap.Error(err))
	}
	return st
}

// toStatus maps domain errors to gRPC status codes. Internal details never
// reach the client.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var ve *errs.ValidationError
	switch {
	case errors.As(err, &ve):
		return validationStatus(ve)
	case errors.Is(err, errs.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrVersionConflict):
		return status.Error(codes.Aborted, "version conflict")
	case errors.Is(err, errs.ErrTenantMismatch):
		return status.Error(codes.PermissionDenied, "tenant mismatch")
	case errors.Is(err, errs.ErrTenantRequired):
		return status.Error(codes.PermissionDenied, "tenant required")
	case errors.Is(err, errs.ErrDuplicateCommand):
		return status.Error(codes.AlreadyExists, "duplicate command")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, service.ErrSearchDisabled):
		return status.Error(codes.Unimplemented, "search disabled")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Error(codes.Internal, "internal")
	}
}

func validationStatus(ve *errs.ValidationError) error {
	st := status.New(codes.InvalidArgument, ve.Error())
	br := &errdetails.BadRequest{}
	for _, v := range ve.Violations {
		br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
			Field:       v.Field,
			Description: v.Message,
		})
	}
	withDetails, err := st.WithDetails(br)
	if err != nil {
		return st.Err()
	}
	return withDetails.Err()
}
