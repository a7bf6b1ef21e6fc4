package interceptor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"cark-backend/internal/config"
	"cark-backend/internal/security"
)

const adminMethod = "/cark.v1.AdminService/TopUp"

func TestAuthInterceptor_Unary(t *testing.T) {
	tm := security.NewTokenManager("test-secret", time.Hour)
	i := NewAuthInterceptor(tm)
	userToken, err := tm.GenerateAccessToken(7, []string{"user"})
	require.NoError(t, err)
	adminToken, err := tm.GenerateAccessToken(1, []string{"admin"})
	require.NoError(t, err)

	config.EndpointSecurityConfig[adminMethod] = config.SecurityAdmin
	t.Cleanup(func() { delete(config.EndpointSecurityConfig, adminMethod) })

	tests := []struct {
		name     string
		method   string
		md       metadata.MD
		wantCode codes.Code
		wantID   string
		wantRole string
	}{
		{"PublicWithoutToken", "/grpc.health.v1.Health/Check", nil, codes.OK, "", ""},
		{"MissingMetadata", "/cark.v1.LedgerService/GetBalance", nil, codes.Unauthenticated, "", ""},
		{"MissingToken", "/cark.v1.LedgerService/GetBalance", metadata.Pairs("x", "y"), codes.Unauthenticated, "", ""},
		{"BadToken", "/cark.v1.LedgerService/GetBalance", metadata.Pairs("authorization", "Bearer nope"), codes.Unauthenticated, "", ""},
		{"AccessOK", "/cark.v1.LedgerService/GetBalance", metadata.Pairs("authorization", "Bearer "+userToken, "user-id", "99"), codes.OK, "7", "user"},
		{"AdminRejectsUser", adminMethod, metadata.Pairs("authorization", "Bearer "+userToken), codes.PermissionDenied, "", ""},
		{"AdminOK", adminMethod, metadata.Pairs("authorization", adminToken), codes.OK, "1", "admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}
			var seen metadata.MD
			handler := func(ctx context.Context, req any) (any, error) {
				seen, _ = metadata.FromIncomingContext(ctx)
				return "ok", nil
			}

			resp, err := i.Unary()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: tt.method}, handler)
			assert.Equal(t, tt.wantCode, status.Code(err))
			if tt.wantCode != codes.OK {
				assert.Nil(t, resp)
				return
			}
			assert.Equal(t, "ok", resp)
			if tt.wantID != "" {
				assert.Equal(t, []string{tt.wantID}, seen.Get("user-id"))
				assert.Equal(t, []string{tt.wantRole}, seen.Get("user-role"))
			}
		})
	}
}
