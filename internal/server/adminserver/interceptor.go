package adminserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/oklog/ulid/v2"

	"github.com/norpie/constellation/internal/telemetry/logger"
	"github.com/norpie/constellation/internal/telemetry/metric"
)

// RequestIDHeader carries the admin request ID. A client-supplied value is
// kept; otherwise the server assigns a ULID.
const RequestIDHeader = "X-Request-Id"

// newLoggingInterceptor tags every admin call with a request ID and logs it
// with its latency.
func newLoggingInterceptor(base *slog.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			id := req.Header().Get(RequestIDHeader)
			if id == "" {
				id = ulid.Make().String()
			}
			ctx = logger.WithRequestID(ctx, id)
			log := logger.FromContext(ctx, base)

			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"procedure", req.Spec().Procedure,
				"peer", req.Peer().Addr,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				log.Warn("admin rpc failed", append(attrs, "error", err)...)
				var cerr *connect.Error
				if errors.As(err, &cerr) {
					cerr.Meta().Set(RequestIDHeader, id)
				}
				return resp, err
			}
			log.Debug("admin rpc", attrs...)
			if resp != nil {
				resp.Header().Set(RequestIDHeader, id)
			}
			return resp, err
		}
	}
}

// newMetricsInterceptor records request counts and latency by procedure and
// connect code.
func newMetricsInterceptor(m *metric.Registry) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			code := "ok"
			if err != nil {
				code = connect.CodeOf(err).String()
			}
			m.RecordRequest(req.Spec().Procedure, code, time.Since(start).Seconds())
			return resp, err
		}
	}
}

var errBadToken = errors.New("missing or invalid bearer token")

// newAuthInterceptor requires "Authorization: Bearer <token>" on every
// call.
func newAuthInterceptor(token string) connect.UnaryInterceptorFunc {
	want := []byte(token)
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			got, ok := strings.CutPrefix(req.Header().Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				return nil, connect.NewError(connect.CodeUnauthenticated, errBadToken)
			}
			return next(ctx, req)
		}
	}
}

// BearerToken returns a client interceptor that sends token.
func BearerToken(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient && token != "" {
				req.Header().Set("Authorization", "Bearer "+token)
			}
			return next(ctx, req)
		}
	}
}
