package grpc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"cark-backend/internal/domain"
	"cark-backend/internal/logger"
)

var kindCodes = map[domain.ErrorKind]codes.Code{
	domain.KindGuardViolation:    codes.FailedPrecondition,
	domain.KindNotFound:          codes.NotFound,
	domain.KindForbidden:         codes.PermissionDenied,
	domain.KindPaymentFailed:     codes.Aborted,
	domain.KindInsufficientFunds: codes.FailedPrecondition,
	domain.KindAlreadyDone:       codes.AlreadyExists,
	domain.KindAlreadyPaid:       codes.AlreadyExists,
	domain.KindInvalidAmount:     codes.InvalidArgument,
	domain.KindInvalidInput:      codes.InvalidArgument,
}

// toStatus converts a service error into a gRPC status. The domain error
// code travels as the status message prefix.
func toStatus(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		code, ok := kindCodes[de.Kind]
		if !ok {
			code = codes.Unknown
		}
		return status.Errorf(code, "%s: %s", de.Code, de.Message)
	}
	logger.Error("Unhandled ledger service error", "error", err)
	return status.Error(codes.Internal, "internal error")
}
