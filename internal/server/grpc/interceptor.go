package grpc

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const UserIDKey ctxKey = "userID"

// accessTokenInterceptor admits ops calls only with an admin access token.
// Other services, such as health, pass through.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	if strings.HasPrefix(info.FullMethod, "/"+OpsServiceName+"/") {

		var accessToken string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			values := md.Get(common.AccessTokenHeaderName)
			if len(values) > 0 {
				accessToken = values[0]
			}
		}
		if len(accessToken) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing token")
		}

		claims, err := auth.ParseToken(accessToken, s.jwtSecret)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		if !claims.Admin {
			return nil, status.Error(codes.PermissionDenied, "admin token required")
		}

		ctx = context.WithValue(ctx, UserIDKey, claims.UserID)

	}

	return handler(ctx, req)
}
