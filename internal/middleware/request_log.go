package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/HasheemYodhin/ys/internal/logger"
	"github.com/HasheemYodhin/ys/internal/metrics"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// RequestLog логирует каждый HTTP-запрос: method, path, status и время выполнения.
// Медленные запросы (>= 1s) и 5xx: на уровне warn/error.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrap(w)
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		}
		switch {
		case rw.status >= http.StatusInternalServerError:
			logger.L().Error("http request", fields...)
		case elapsed >= time.Second:
			logger.L().Warn("http request slow", fields...)
		default:
			logger.L().Debug("http request", fields...)
		}
	})
}

// Metrics пишет латентность запросов в prometheus с шаблоном маршрута chi (не сырой путь).
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					route = p
				}
			}
			m.ObserveHTTP(route, r.Method, strconv.Itoa(rw.status/100)+"xx", time.Since(start))
		})
	}
}
