package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/and161185/lotus-core/internal/errs"
	"github.com/and161185/lotus-core/internal/tenant"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Metadata keys carrying the tenant.
const (
	TenantHeader    = "x-tenant-id"
	authorityHeader = ":authority"
)

// TenantClaims are the JWT claims understood by the boundary.
type TenantClaims struct {
	Tenant string `json:"tenant"`
	jwt.RegisteredClaims
}

// TenantResolver finds the tenant of an incoming call.
//
// Order: the `tenant` claim of an HS256 bearer token, then the x-tenant-id
// header, then the first label of the :authority host. A bearer token that
// fails verification is an error, never a fallback. With SignKey set the
// token is mandatory and the header and host are ignored.
type TenantResolver struct {
	SignKey    []byte
	BaseDomain string // e.g. "lotus.example.com"; empty accepts any <tenant>.host.tld
}

// Resolve returns the tenant id for ctx.
func (r *TenantResolver) Resolve(ctx context.Context) (string, error) {
	if tok, err := bearerTokenFromMD(ctx); err == nil {
		return r.fromToken(tok)
	}
	if len(r.SignKey) > 0 {
		return "", fmt.Errorf("bearer token required: %w", errs.ErrUnauthorized)
	}
	md, _ := metadata.FromIncomingContext(ctx)
	if id := firstValue(md.Get(TenantHeader)); id != "" {
		return id, nil
	}
	if id := r.fromAuthority(firstValue(md.Get(authorityHeader))); id != "" {
		return id, nil
	}
	return "", errs.ErrTenantRequired
}

func (r *TenantResolver) fromToken(tok string) (string, error) {
	if len(r.SignKey) == 0 {
		return "", fmt.Errorf("bearer token without signing key: %w", errs.ErrUnauthorized)
	}
	var claims TenantClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return r.SignKey, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("invalid token: %w", errs.ErrUnauthorized)
	}
	id := strings.TrimSpace(claims.Tenant)
	if id == "" {
		return "", fmt.Errorf("token without tenant claim: %w", errs.ErrUnauthorized)
	}
	return id, nil
}

func (r *TenantResolver) fromAuthority(host string) string {
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if net.ParseIP(host) != nil {
		return ""
	}
	if base := strings.ToLower(strings.Trim(r.BaseDomain, ".")); base != "" {
		sub, ok := strings.CutSuffix(host, "."+base)
		if !ok || sub == "" || strings.Contains(sub, ".") {
			return ""
		}
		return sub
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	return labels[0]
}

func firstValue(vals []string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}

func tenantExempt(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.v1.") ||
		strings.HasPrefix(method, "/grpc.reflection.")
}

// TenantUnary resolves the tenant and runs the handler inside its scope.
// The scope is cleared when the handler returns.
func TenantUnary(res *TenantResolver, log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if tenantExempt(info.FullMethod) {
			return next(ctx, req)
		}
		id, err := res.Resolve(ctx)
		if err != nil {
			log.Warn("tenant not resolved", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, toStatus(err)
		}
		var resp any
		err = tenant.Run(ctx, id, func(ctx context.Context) error {
			var herr error
			resp, herr = next(ctx, req)
			return herr
		})
		return resp, err
	}
}

// --- client side ---

// WithTenantID attaches the tenant header to outgoing calls.
func WithTenantID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, TenantHeader, id)
}

// WithBearer attaches an authorization header to outgoing calls.
func WithBearer(ctx context.Context, token string) context.Context {
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

// SignTenantToken mints an HS256 token carrying the tenant claim.
func SignTenantToken(key []byte, tenantID, subject string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := TenantClaims{
		Tenant: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
