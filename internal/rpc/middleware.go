package rpc

import (
	"context"
	"net"
	"net/http"
	"time"
)

// withIPFilter rejects clients outside the allowed networks.
func (s *Server) withIPFilter(next http.Handler) http.Handler {
	if len(s.allowedNets) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ip := net.ParseIP(host)
		if ip == nil || !s.isIPAllowed(ip) {
			s.logger.Debug().Str("remote", r.RemoteAddr).Msg("RPC request rejected by IP filter")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withDeadline bounds every request by the configured timeout.
func (s *Server) withDeadline(next http.Handler) http.Handler {
	if s.timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withMetrics records the status and latency of every request.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.metrics.Request(routeLabel(r.URL.Path), rec.status, time.Since(start))
	})
}

// routeLabel keeps the request metric's path label bounded.
func routeLabel(path string) string {
	switch path {
	case "/", "/health", "/metrics", "/api/decrypt-memo", "/api/scan-transactions":
		return path
	}
	return "other"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
