package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"wamux/internal/constants"
	"wamux/internal/metrics"
	"wamux/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RequestIDHeader is echoed back on every response and honoured when the
// caller supplies one.
const RequestIDHeader = "X-Request-ID"

// ObservabilityMiddleware adds request ids, an OpenTelemetry span, metrics
// and structured access logging to every request.
func ObservabilityMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeTemplate(r)

			ctx, span := tracing.WithOtelTracing(r.Context(), "http "+route,
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("client.address", clientIP(r)),
			)
			defer span.End()

			ctx = tracing.WithRequest(ctx, r.Header.Get(RequestIDHeader))
			r = r.WithContext(ctx)
			info := tracing.GetRequestInfo(ctx)
			w.Header().Set(RequestIDHeader, info.RequestID)

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

			logger.WithFields(logrus.Fields{
				constants.LogFieldRequestID: info.RequestID,
				constants.LogFieldTraceID:   info.TraceID,
				constants.LogFieldMethod:    r.Method,
				constants.LogFieldURL:       r.URL.Path,
				constants.LogFieldRemoteIP:  clientIP(r),
				constants.LogFieldUserAgent: r.Header.Get("User-Agent"),
			}).Debug("HTTP request started")

			next.ServeHTTP(wrapper, r)

			duration := tracing.Duration(ctx)
			status := strconv.Itoa(wrapper.statusCode)

			tracing.AddSpanAttributes(ctx,
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.response.size", wrapper.responseSize),
			)
			if wrapper.statusCode >= 500 {
				tracing.SetSpanStatus(ctx, codes.Error, fmt.Sprintf("HTTP %d", wrapper.statusCode))
			} else {
				tracing.SetSpanStatus(ctx, codes.Ok, "")
			}

			labels := map[string]string{"method": r.Method, "route": route, "status_code": status}
			metrics.IncrementCounter(metrics.HTTPRequestsTotal, labels, "HTTP requests by route and status")
			metrics.RecordTimer(metrics.HTTPRequestDuration, duration, labels, "HTTP request duration")

			level := logrus.InfoLevel
			switch {
			case wrapper.statusCode >= 500:
				level = logrus.ErrorLevel
			case wrapper.statusCode >= 400:
				level = logrus.WarnLevel
			}

			logger.WithFields(logrus.Fields{
				constants.LogFieldRequestID:  info.RequestID,
				constants.LogFieldTraceID:    info.TraceID,
				constants.LogFieldMethod:     r.Method,
				constants.LogFieldURL:        r.URL.Path,
				constants.LogFieldStatusCode: wrapper.statusCode,
				constants.LogFieldDuration:   duration.Milliseconds(),
				constants.LogFieldSize:       wrapper.responseSize,
			}).Log(level, "HTTP request completed")
		})
	}
}

// routeTemplate keeps metric labels bounded by using the matched route
// pattern instead of the raw path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}
