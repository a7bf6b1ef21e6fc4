package grpc

import (
	"context"

	"google.golang.org/grpc"

	"cark-backend/internal/domain"
)

const ledgerServiceName = "cark.v1.LedgerService"

type GetBalanceRequest struct{}

type GetBalanceResponse struct {
	Wallet *domain.Wallet `json:"wallet"`
}

type ListTransactionsRequest struct {
	Page     int32 `json:"page"`
	PageSize int32 `json:"page_size"`
}

type ListTransactionsResponse struct {
	Transactions []domain.LedgerTransaction `json:"transactions"`
	TotalCount   int32                      `json:"total_count"`
}

type GetLedgerSummaryRequest struct{}

type GetLedgerSummaryResponse struct {
	Summary *domain.LedgerSummary `json:"summary"`
}

// LedgerServiceServer is the read side of the caller's wallet.
type LedgerServiceServer interface {
	GetBalance(context.Context, *GetBalanceRequest) (*GetBalanceResponse, error)
	ListTransactions(context.Context, *ListTransactionsRequest) (*ListTransactionsResponse, error)
	GetLedgerSummary(context.Context, *GetLedgerSummaryRequest) (*GetLedgerSummaryResponse, error)
}

func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](method string, call func(LedgerServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ledgerServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ledgerServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetBalance",
			Handler:    unaryHandler("GetBalance", LedgerServiceServer.GetBalance),
		},
		{
			MethodName: "ListTransactions",
			Handler:    unaryHandler("ListTransactions", LedgerServiceServer.ListTransactions),
		},
		{
			MethodName: "GetLedgerSummary",
			Handler:    unaryHandler("GetLedgerSummary", LedgerServiceServer.GetLedgerSummary),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cark/v1/ledger.proto",
}

// LedgerServiceClient calls the ledger service with the JSON codec.
type LedgerServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerServiceClient(cc grpc.ClientConnInterface) *LedgerServiceClient {
	return &LedgerServiceClient{cc: cc}
}

func (c *LedgerServiceClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ledgerServiceName+"/"+method, in, out, opts...)
}

func (c *LedgerServiceClient) GetBalance(ctx context.Context, in *GetBalanceRequest, opts ...grpc.CallOption) (*GetBalanceResponse, error) {
	out := new(GetBalanceResponse)
	if err := c.invoke(ctx, "GetBalance", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerServiceClient) ListTransactions(ctx context.Context, in *ListTransactionsRequest, opts ...grpc.CallOption) (*ListTransactionsResponse, error) {
	out := new(ListTransactionsResponse)
	if err := c.invoke(ctx, "ListTransactions", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerServiceClient) GetLedgerSummary(ctx context.Context, in *GetLedgerSummaryRequest, opts ...grpc.CallOption) (*GetLedgerSummaryResponse, error) {
	out := new(GetLedgerSummaryResponse)
	if err := c.invoke(ctx, "GetLedgerSummary", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
