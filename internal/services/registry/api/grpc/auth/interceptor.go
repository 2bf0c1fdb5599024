package auth

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	grpcmetadata "google.golang.org/grpc/metadata"

	apperrors "github.com/louisbranch/vehicle-registry/internal/platform/errors"
	"github.com/louisbranch/vehicle-registry/internal/platform/requestctx"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/metadata"
)

// AuthorizationHeader carries the caller bearer token.
const AuthorizationHeader = "authorization"

const bearerPrefix = "bearer "

// UnaryServerInterceptor authenticates the caller of each unary call and
// stores the caller address with requestctx.WithCaller. Methods for which
// requiresCaller reports true fail with Unauthenticated when no token is
// sent; other methods accept anonymous calls but still reject bad tokens.
func UnaryServerInterceptor(verifier TokenVerifier, requiresCaller func(fullMethod string) bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		locale := metadata.LocaleFromContext(ctx)
		token := bearerToken(ctx)
		if token == "" {
			if requiresCaller != nil && requiresCaller(info.FullMethod) {
				return nil, apperrors.HandleError(unauthenticated("caller token is required"), locale)
			}
			return handler(ctx, req)
		}
		if verifier == nil {
			return nil, apperrors.HandleError(unauthenticated("caller tokens are not accepted by this server"), locale)
		}

		claims, err := verifier.Verify(ctx, token)
		if err != nil {
			return nil, apperrors.HandleError(err, locale)
		}
		return handler(requestctx.WithCaller(ctx, claims.Caller.String()), req)
	}
}

func bearerToken(ctx context.Context) string {
	md, ok := grpcmetadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	value := metadata.FirstMetadataValue(md, AuthorizationHeader)
	if len(value) < len(bearerPrefix) || !strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(value[len(bearerPrefix):])
}

// BearerToken attaches a caller token to outgoing calls.
type BearerToken string

// GetRequestMetadata implements credentials.PerRPCCredentials.
func (t BearerToken) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	if t == "" {
		return map[string]string{}, nil
	}
	return map[string]string{AuthorizationHeader: "Bearer " + string(t)}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials. Tokens
// travel over the plaintext transport used inside the deployment.
func (t BearerToken) RequireTransportSecurity() bool {
	return false
}
