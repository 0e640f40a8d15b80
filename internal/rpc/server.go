// Package rpc implements the HTTP API server: the REST scan endpoints, a
// JSON-RPC 2.0 endpoint for scans and persisted wallets, health and metrics.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/shieldscan/config"
	klog "github.com/Klingon-tech/shieldscan/internal/log"
	"github.com/Klingon-tech/shieldscan/internal/metrics"
	"github.com/Klingon-tech/shieldscan/internal/scan"
	"github.com/Klingon-tech/shieldscan/internal/wallet"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// ServiceName is reported by /health and node_getInfo.
const ServiceName = "shieldscan"

// Server is the HTTP API server.
type Server struct {
	addr        string
	svc         *scan.Service
	wallets     *scan.Wallets    // For wallet_* methods (nil = disabled).
	keystore    *wallet.Keystore // For named wallets (nil = disabled).
	metrics     *metrics.Metrics // For /metrics (nil = disabled).
	network     types.Network
	timeout     time.Duration // Per-request deadline, 0 = none.
	handler     http.Handler
	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet // Empty = allow all.
	corsOrigins []string     // Empty = no CORS headers.
}

// Option configures a Server.
type Option func(*Server)

// WithWallets enables the persisted wallet methods.
func WithWallets(w *scan.Wallets) Option {
	return func(s *Server) { s.wallets = w }
}

// WithKeystore lets wallet methods name keys stored in ks.
func WithKeystore(ks *wallet.Keystore) Option {
	return func(s *Server) { s.keystore = ks }
}

// WithMetrics serves m at /metrics and records request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithNetwork sets the network reported by node_getInfo.
func WithNetwork(n types.Network) Option {
	return func(s *Server) { s.network = n }
}

// New creates a new RPC server listening on addr. The rpcCfg parameter
// controls IP filtering, CORS and the per-request deadline. A zero-value
// RPCConfig allows all IPs and disables CORS.
func New(addr string, svc *scan.Service, rpcCfg config.RPCConfig, opts ...Option) *Server {
	s := &Server{
		addr:        addr,
		svc:         svc,
		timeout:     rpcCfg.RequestTimeout,
		logger:      klog.WithComponent("rpc"),
		allowedNets: parseAllowedIPs(rpcCfg.AllowedIPs),
		corsOrigins: rpcCfg.CORSOrigins,
	}
	for _, o := range opts {
		o(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("POST /api/decrypt-memo", s.handleDecryptMemo)
	mux.HandleFunc("POST /api/scan-transactions", s.handleScanTransactions)
	mux.HandleFunc("/{$}", s.handleRequest)

	var h http.Handler = mux
	h = s.withDeadline(h)
	if len(s.corsOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"*"},
		}).Handler(h)
	}
	h = s.withIPFilter(h)
	h = s.withMetrics(h)
	s.handler = h

	s.server = &http.Server{
		Handler:     h,
		ReadTimeout: 30 * time.Second,
		// Scans of wide ranges are long-running.
		WriteTimeout: 15 * time.Minute,
	}

	return s
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		// Try as a single IP (add /32 or /128).
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Handler returns the server's root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("RPC server listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleRequest is the HTTP handler for JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	result, rpcErr := s.dispatch(r.Context(), &req)
	if rpcErr != nil {
		writeJSON(w, Response{
			JSONRPC: "2.0",
			Error:   rpcErr,
			ID:      req.ID,
		})
		return
	}

	writeJSON(w, Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeBody(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: ServiceName,
		Version: config.Version,
	})
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// writeBody writes a plain JSON body with the given status.
func writeBody(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// parseParams unmarshals the request params into the given target.
func parseParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}

	data, err := json.Marshal(req.Params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}

	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
