package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/and161185/lotus-core/internal/crypto"
	"github.com/and161185/lotus-core/internal/dedup"
	"github.com/and161185/lotus-core/internal/errs"
	"github.com/and161185/lotus-core/internal/projection"
	"github.com/and161185/lotus-core/internal/repository/memory"
	"github.com/and161185/lotus-core/internal/search"
	"github.com/and161185/lotus-core/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const bufSize = 1 << 20

type stack struct {
	engine *projection.Engine
	client *StudentAdminClient
}

func startStack(t *testing.T, signKey []byte) *stack {
	t.Helper()
	logger := zaptest.NewLogger(t)

	idx, err := search.Open(context.Background(), filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	log := memory.NewEventLog()
	store := memory.NewStudentStore()
	engine := projection.New(log, logger, projection.Config{MaxRetries: 2, Backoff: time.Millisecond}, store, idx)

	hasher := crypto.NewHasher(crypto.Params{Time: 1, Memory: 1024, Threads: 1})
	router := service.NewCommandRouter(log, engine, logger,
		service.WithSealer(hasher.Seal),
		service.WithDeduper(dedup.NewMemory(time.Minute)),
	)
	srv := New(router, service.NewQueryService(store, idx), engine, logger)

	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoverUnary(logger),
		LoggingUnary(logger),
		TenantUnary(&TenantResolver{SignKey: signKey}, logger),
	))
	RegisterStudentAdminServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cc.Close()
		gs.Stop()
		_ = lis.Close()
		engine.Close()
		_ = idx.Close()
	})
	return &stack{engine: engine, client: NewStudentAdminClient(cc)}
}

func (s *stack) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.engine.Flush(ctx))
}

func msg(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func student(id string) map[string]any {
	return map[string]any{
		"id":       id,
		"username": "jdoe",
		"password": "s3cretpass",
		"name":     "John",
		"surname":  "Doe",
		"email":    "john@uni.edu",
		"faculty":  "Eng",
	}
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want, status.Code(err), "err: %v", err)
}

func TestServer_E2E_Lifecycle(t *testing.T) {
	t.Parallel()

	s := startStack(t, nil)
	cl := s.client
	ctx := WithTenantID(context.Background(), "t1")

	created, err := cl.CreateStudent(ctx, msg(t, student("s1")))
	require.NoError(t, err)
	require.Equal(t, "s1", created.GetFields()["id"].GetStringValue())
	require.Equal(t, float64(1), created.GetFields()["version"].GetNumberValue())
	s.flush(t)

	got, err := cl.GetStudent(ctx, msg(t, map[string]any{"id": "s1"}))
	require.NoError(t, err)
	rec := got.AsMap()
	require.Equal(t, "John Doe", rec["full_name"])
	require.Equal(t, "t1", rec["tenant_id"])
	require.NotContains(t, rec, "password")

	page, err := cl.ListStudents(ctx, msg(t, map[string]any{"faculty": "Eng"}))
	require.NoError(t, err)
	require.Equal(t, float64(1), page.GetFields()["total_elements"].GetNumberValue())

	found, err := cl.SearchStudents(ctx, msg(t, map[string]any{"text": "john"}))
	require.NoError(t, err)
	require.Len(t, found.GetFields()["content"].GetListValue().GetValues(), 1)

	sugg, err := cl.SuggestStudents(ctx, msg(t, map[string]any{"prefix": "jo"}))
	require.NoError(t, err)
	require.Len(t, sugg.GetFields()["content"].GetListValue().GetValues(), 1)

	upd, err := cl.UpdateStudent(ctx, msg(t, map[string]any{"id": "s1", "email": "jd@uni.edu"}))
	require.NoError(t, err)
	require.Equal(t, float64(2), upd.GetFields()["version"].GetNumberValue())

	_, err = cl.DeleteStudent(ctx, msg(t, map[string]any{"id": "s1"}))
	require.NoError(t, err)
	s.flush(t)

	_, err = cl.GetStudent(ctx, msg(t, map[string]any{"id": "s1"}))
	requireCode(t, err, codes.NotFound)
	_, err = cl.DeleteStudent(ctx, msg(t, map[string]any{"id": "s1"}))
	requireCode(t, err, codes.NotFound)
}

func TestServer_ValidationCarriesFieldViolations(t *testing.T) {
	t.Parallel()

	s := startStack(t, nil)
	ctx := WithTenantID(context.Background(), "t1")

	_, err := s.client.CreateStudent(ctx, msg(t, map[string]any{"name": "J"}))
	requireCode(t, err, codes.InvalidArgument)

	var fields []string
	for _, d := range status.Convert(err).Details() {
		if br, ok := d.(*errdetails.BadRequest); ok {
			for _, v := range br.GetFieldViolations() {
				fields = append(fields, v.GetField())
			}
		}
	}
	require.Contains(t, fields, "username")
	require.Contains(t, fields, "email")

	_, err = s.client.GetStudent(ctx, msg(t, map[string]any{}))
	requireCode(t, err, codes.InvalidArgument)
}

func TestServer_TenantBoundaries(t *testing.T) {
	t.Parallel()

	s := startStack(t, nil)
	t1 := WithTenantID(context.Background(), "t1")
	t2 := WithTenantID(context.Background(), "t2")

	_, err := s.client.CreateStudent(t1, msg(t, student("s1")))
	require.NoError(t, err)
	s.flush(t)

	_, err = s.client.GetStudent(t2, msg(t, map[string]any{"id": "s1"}))
	requireCode(t, err, codes.NotFound)

	_, err = s.client.UpdateStudent(t2, msg(t, map[string]any{"id": "s1", "name": "Eve"}))
	requireCode(t, err, codes.PermissionDenied)

	_, err = s.client.ListStudents(context.Background(), msg(t, map[string]any{}))
	requireCode(t, err, codes.PermissionDenied)
}

func TestServer_IdempotencyKey(t *testing.T) {
	t.Parallel()

	s := startStack(t, nil)
	ctx := WithTenantID(context.Background(), "t1")

	first := student("s1")
	first["idempotency_key"] = "k1"
	_, err := s.client.CreateStudent(ctx, msg(t, first))
	require.NoError(t, err)

	second := student("s2")
	second["idempotency_key"] = "k1"
	_, err = s.client.CreateStudent(ctx, msg(t, second))
	requireCode(t, err, codes.AlreadyExists)
}

func TestServer_BearerTokenAndRebuild(t *testing.T) {
	t.Parallel()

	key := []byte("test-secret")
	s := startStack(t, key)
	tok, err := SignTenantToken(key, "acme", "ops", time.Minute)
	require.NoError(t, err)
	ctx := WithBearer(context.Background(), tok)

	for i := range 3 {
		_, err := s.client.CreateStudent(ctx, msg(t, student(fmt.Sprintf("s%d", i))))
		require.NoError(t, err)
	}

	out, err := s.client.RebuildProjections(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, "acme", out.GetFields()["tenant_id"].GetStringValue())
	require.Equal(t, float64(3), out.GetFields()["aggregates"].GetNumberValue())

	page, err := s.client.ListStudents(ctx, msg(t, map[string]any{}))
	require.NoError(t, err)
	require.Equal(t, float64(3), page.GetFields()["total_elements"].GetNumberValue())

	_, err = s.client.ListStudents(WithTenantID(context.Background(), "acme"), msg(t, map[string]any{}))
	requireCode(t, err, codes.Unauthenticated)

	bad := WithBearer(context.Background(), tok+"x")
	_, err = s.client.ListStudents(bad, msg(t, map[string]any{}))
	requireCode(t, err, codes.Unauthenticated)
}

func TestToStatus(t *testing.T) {
	t.Parallel()

	var ve errs.ValidationError
	ve.Add("email", "must not be blank")

	cases := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("decide: %w", &ve), codes.InvalidArgument},
		{errs.ErrNotFound, codes.NotFound},
		{fmt.Errorf("append s1: %w", errs.ErrVersionConflict), codes.Aborted},
		{&errs.TenantMismatchError{AggregateID: "s1"}, codes.PermissionDenied},
		{errs.ErrTenantRequired, codes.PermissionDenied},
		{errs.ErrDuplicateCommand, codes.AlreadyExists},
		{errs.ErrAlreadyExists, codes.AlreadyExists},
		{errs.ErrUnauthorized, codes.Unauthenticated},
		{service.ErrSearchDisabled, codes.Unimplemented},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{status.Error(codes.Unavailable, "down"), codes.Unavailable},
		{errors.New("disk on fire"), codes.Internal},
	}
	for _, c := range cases {
		require.Equal(t, c.want, status.Code(toStatus(c.err)), "err: %v", c.err)
	}
	require.NoError(t, toStatus(nil))
	require.NotContains(t, status.Convert(toStatus(errors.New("disk on fire"))).Message(), "disk")
}
