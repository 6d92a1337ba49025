package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"accountd/internal/netutil"

	"go.uber.org/zap"
)

type ctxKey string

const (
	CtxKeyRequestID ctxKey = "request_id"
	CtxKeyTraceID   ctxKey = "trace_id"
	CtxKeyClientIP  ctxKey = "client_ip"
	CtxKeyUserAgent ctxKey = "user_agent"
)

func generateID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}

// WithRequestAndTrace tags the request context with request/trace ids and the
// resolved client address, echoes the ids back, and logs start and finish.
func WithRequestAndTrace(logger *zap.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = generateID()
			}
			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" {
				traceID = generateID()
			}

			ctx := context.WithValue(r.Context(), CtxKeyRequestID, reqID)
			ctx = context.WithValue(ctx, CtxKeyTraceID, traceID)
			ctx = context.WithValue(ctx, CtxKeyClientIP, netutil.ClientIP(r, trustProxy))
			ctx = context.WithValue(ctx, CtxKeyUserAgent, netutil.TruncateUserAgent(r.UserAgent()))
			r = r.WithContext(ctx)

			w.Header().Set("X-Request-ID", reqID)
			w.Header().Set("X-Trace-ID", traceID)

			start := time.Now()
			logger.Debug("incoming request",
				zap.String("request_id", reqID),
				zap.String("trace_id", traceID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)

			next.ServeHTTP(w, r)

			logger.Info("finished request",
				zap.String("request_id", reqID),
				zap.String("trace_id", traceID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("latency", time.Since(start)),
			)
		})
	}
}

func stringFrom(ctx context.Context, key ctxKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func RequestIDFromContext(ctx context.Context) string { return stringFrom(ctx, CtxKeyRequestID) }

func TraceIDFromContext(ctx context.Context) string { return stringFrom(ctx, CtxKeyTraceID) }

func ClientIPFromContext(ctx context.Context) string { return stringFrom(ctx, CtxKeyClientIP) }

func UserAgentFromContext(ctx context.Context) string { return stringFrom(ctx, CtxKeyUserAgent) }

// Fields returns the request correlation fields for log lines emitted deeper
// in the call stack.
func Fields(ctx context.Context) []zap.Field {
	return []zap.Field{
		zap.String("request_id", RequestIDFromContext(ctx)),
		zap.String("trace_id", TraceIDFromContext(ctx)),
	}
}
