package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request with status and latency.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("request_id", chimw.GetReqID(r.Context())),
				}
				switch {
				case ww.Status() >= 500:
					logger.Error("HTTP request", fields...)
				case ww.Status() >= 400:
					logger.Warn("HTTP request", fields...)
				default:
					logger.Info("HTTP request", fields...)
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
