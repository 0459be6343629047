// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// observe wraps each request in a span, logs it and records HTTP metrics
// under the matched route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		ctx, span := s.tracer.Start(r.Context(), "http.request",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			),
		)
		defer span.End()
		r = r.WithContext(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		route := routePattern(r)
		elapsed := s.now().Sub(start)

		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", code),
			attribute.Int("http.response_size", ww.BytesWritten()),
		)
		if code >= 500 {
			span.SetStatus(codes.Error, http.StatusText(code))
		}
		s.httpMetrics.RecordHTTPRequest(ctx, r.Method, route, code, elapsed)
		s.logger.DebugContext(ctx, "http request",
			"method", r.Method,
			"route", route,
			"status", code,
			"request_id", middleware.GetReqID(ctx),
			"duration", elapsed,
		)
	})
}

// routePattern returns the matched chi pattern, falling back to the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
