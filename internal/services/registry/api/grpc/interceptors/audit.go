// Package interceptors holds cross-cutting gRPC server interceptors for the
// registry API.
package interceptors

import (
	"context"
	"log"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/louisbranch/vehicle-registry/internal/platform/requestctx"
	grpcmeta "github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/metadata"
)

// MethodClassifier reports whether a full gRPC method name is a read.
type MethodClassifier func(fullMethod string) bool

// AuditInterceptor writes one log line per unary call with the method, its
// read/write kind, the authenticated caller, the status code and trace ids.
func AuditInterceptor(logf func(string, ...any), isRead MethodClassifier) grpc.UnaryServerInterceptor {
	if logf == nil {
		logf = log.Printf
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)

		methodKind := "write"
		if isRead != nil && isRead(info.FullMethod) {
			methodKind = "read"
		}
		code := codes.OK
		if err != nil {
			code = codes.Unknown
			if st, ok := status.FromError(err); ok {
				code = st.Code()
			}
		}
		caller, ok := requestctx.CallerFromContext(ctx)
		if !ok {
			caller = "anonymous"
		}

		var traceID, spanID string
		if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
			traceID = sc.TraceID().String()
			spanID = sc.SpanID().String()
		}

		fields := []string{
			"method=" + info.FullMethod,
			"kind=" + methodKind,
			"caller=" + caller,
			"code=" + code.String(),
		}
		if requestID := grpcmeta.RequestIDFromContext(ctx); requestID != "" {
			fields = append(fields, "request_id="+requestID)
		}
		if traceID != "" {
			fields = append(fields, "trace_id="+traceID, "span_id="+spanID)
		}
		logf("grpc %s", strings.Join(fields, " "))
		return resp, err
	}
}
