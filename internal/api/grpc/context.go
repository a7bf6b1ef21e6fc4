package grpc

import (
	"context"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"cark-backend/internal/domain"
)

// Metadata keys the auth interceptor writes after validating the token.
const (
	MetadataUserID   = "user-id"
	MetadataUserRole = "user-role"
)

// ActorFromContext rebuilds the authenticated caller from the metadata the
// auth interceptor injected. A missing role means a plain user.
func ActorFromContext(ctx context.Context) (domain.Actor, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "metadata is not provided")
	}

	ids := md.Get(MetadataUserID)
	if len(ids) == 0 {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "user_id is not provided in metadata")
	}
	userID, err := strconv.ParseInt(ids[0], 10, 32)
	if err != nil {
		return domain.Actor{}, status.Errorf(codes.InvalidArgument, "invalid user_id format: %v", err)
	}

	actor := domain.Actor{UserID: int32(userID), Role: domain.RoleUser}
	if roles := md.Get(MetadataUserRole); len(roles) > 0 && roles[0] != "" {
		actor.Role = domain.Role(roles[0])
	}
	return actor, nil
}

// GetUserIDFromContext returns just the caller's user id.
func GetUserIDFromContext(ctx context.Context) (int32, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return 0, err
	}
	return actor.UserID, nil
}
