package grpc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	api "cark-backend/internal/api/grpc"
	"cark-backend/internal/domain"
	"cark-backend/internal/repository/memory"
	"cark-backend/internal/security"
	"cark-backend/internal/service"
)

type grpcFixture struct {
	conn   *grpc.ClientConn
	tokens security.TokenManager
	ledger service.LedgerService
}

func newGRPCFixture(t *testing.T) *grpcFixture {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ledger := service.NewLedgerService(memory.NewStore(), nil)
	tokens := security.NewTokenManager("test-secret", time.Hour)

	srv, _ := api.NewServer(ledger, tokens)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &grpcFixture{conn: conn, tokens: tokens, ledger: ledger}
}

func (f *grpcFixture) authed(t *testing.T, userID int32) context.Context {
	t.Helper()
	tok, err := f.tokens.GenerateAccessToken(userID, []string{"user"})
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+tok)
}

func TestLedgerService_GetBalance(t *testing.T) {
	f := newGRPCFixture(t)
	admin := domain.Actor{UserID: 100, Role: domain.RoleAdmin}
	_, err := f.ledger.TopUp(context.Background(), admin, 7, decimal.NewFromInt(80), "seed")
	require.NoError(t, err)

	client := api.NewLedgerServiceClient(f.conn)

	t.Run("Success", func(t *testing.T) {
		resp, err := client.GetBalance(f.authed(t, 7), &api.GetBalanceRequest{})
		require.NoError(t, err)
		require.NotNil(t, resp.Wallet)
		assert.Equal(t, domain.UserAccount(7), resp.Wallet.AccountID)
		assert.True(t, decimal.NewFromInt(80).Equal(resp.Wallet.Balance))
	})

	t.Run("SpoofedUserIDIsOverwritten", func(t *testing.T) {
		ctx := metadata.AppendToOutgoingContext(f.authed(t, 8), "user-id", "7")
		resp, err := client.GetBalance(ctx, &api.GetBalanceRequest{})
		require.NoError(t, err)
		assert.Equal(t, domain.UserAccount(8), resp.Wallet.AccountID)
		assert.True(t, resp.Wallet.Balance.IsZero())
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		_, err := client.GetBalance(context.Background(), &api.GetBalanceRequest{})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("InvalidToken", func(t *testing.T) {
		ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer junk")
		_, err := client.GetBalance(ctx, &api.GetBalanceRequest{})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})
}

func TestLedgerService_ListTransactionsAndSummary(t *testing.T) {
	f := newGRPCFixture(t)
	admin := domain.Actor{UserID: 100, Role: domain.RoleAdmin}
	for _, amount := range []int64{10, 20, 30} {
		_, err := f.ledger.TopUp(context.Background(), admin, 7, decimal.NewFromInt(amount), "seed")
		require.NoError(t, err)
	}
	client := api.NewLedgerServiceClient(f.conn)
	ctx := f.authed(t, 7)

	list, err := client.ListTransactions(ctx, &api.ListTransactionsRequest{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int32(3), list.TotalCount)
	require.Len(t, list.Transactions, 2)
	assert.True(t, decimal.NewFromInt(30).Equal(list.Transactions[0].Amount))

	summary, err := client.GetLedgerSummary(ctx, &api.GetLedgerSummaryRequest{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), summary.Summary.TransactionCount)
	assert.True(t, decimal.NewFromInt(60).Equal(summary.Summary.Balance))
}

func TestHealthCheck_IsPublic(t *testing.T) {
	f := newGRPCFixture(t)
	resp, err := healthpb.NewHealthClient(f.conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
