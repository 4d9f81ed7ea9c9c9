package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/geofence/internal/logging"
)

// RequestIDHeader carries a caller-supplied request id on HTTP requests and
// gRPC metadata.
const RequestIDHeader = "x-request-id"

// RequestIDUnaryServerInterceptor ensures a request_id is present on the
// context, sourcing it from inbound metadata if provided, and logs each call
// at debug level.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	base = logging.OrNoop(base)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(RequestIDHeader); len(vals) > 0 && vals[0] != "" {
				ctx = logging.ContextWithRequestID(ctx, vals[0])
			}
		}
		ctx, _ = logging.EnsureRequestID(ctx)

		resp, err := handler(ctx, req)
		base.Debug(ctx, "grpc call", logging.String("method", info.FullMethod), logging.Err(err))
		return resp, err
	}
}

// TracingUnaryServerInterceptor enriches RPC spans with standard attributes and
// ensures a server span exists when the otelgrpc stats handler is not configured.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		service, method := SplitMethod(info.FullMethod)
		span := trace.SpanFromContext(ctx)
		created := false
		if !span.SpanContext().IsValid() {
			ctx, span = tracer.Start(ctx, fmt.Sprintf("gRPC/%s/%s", service, method), trace.WithSpanKind(trace.SpanKindServer))
			created = true
		}

		attrs := []attribute.KeyValue{
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
			attribute.String("rpc.full_method", strings.TrimPrefix(info.FullMethod, "/")),
		}
		if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
			attrs = append(attrs, attribute.String("request_id", reqID))
		}
		span.SetAttributes(attrs...)

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
		}
		if created {
			span.End()
		}
		return resp, err
	}
}
