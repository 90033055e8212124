package admin

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const maxAuditBodyBytes = 1024

// Audit logs every mutating request with a body excerpt and the response
// status.
func Audit(logger *slog.Logger) func(http.Handler) http.Handler {
	auditLogger := logger.With("component", "admin_audit")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			requestID := uuid.NewString()
			w.Header().Set("X-Request-ID", requestID)

			var excerpt string
			if r.Body != nil {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
				if err == nil {
					excerpt = string(body)
					if len(body) > maxAuditBodyBytes {
						excerpt = string(body[:maxAuditBodyBytes]) + "...(truncated)"
					}
					r.Body = io.NopCloser(bytes.NewReader(body))
				}
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			auditLogger.Info("admin request",
				"request_id", requestID,
				"remote_addr", r.RemoteAddr,
				"method", r.Method,
				"path", r.URL.Path,
				"body", excerpt,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}
