package grpc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"cark-backend/internal/api/grpc/interceptor"
	"cark-backend/internal/security"
	"cark-backend/internal/service"
)

// NewServer builds the gRPC server with the ledger service, the standard
// health service and reflection for grpcurl.
func NewServer(ledgerSvc service.LedgerService, tm security.TokenManager, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	authInterceptor := interceptor.NewAuthInterceptor(tm)
	opts = append([]grpc.ServerOption{
		grpc.UnaryInterceptor(authInterceptor.Unary()),
		grpc.StreamInterceptor(authInterceptor.Stream()),
	}, opts...)
	s := grpc.NewServer(opts...)

	RegisterLedgerServiceServer(s, NewLedgerHandler(ledgerSvc))

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(ledgerServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, healthSrv)

	reflection.Register(s)
	return s, healthSrv
}
