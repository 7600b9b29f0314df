// Package statusserver exposes a small read-only HTTP introspection
// endpoint over the node's current stats and this process's validator
// configuration, the ambient component SPEC_FULL.md's package layout
// names alongside C1-C9 but leaves otherwise unspecified. No HTTP
// router library appears anywhere in the dependency pool this repository
// draws from (gorilla/mux, gorilla/websocket and go-chi/chi are all
// listed as teacher dependencies but never imported even by the
// teacher, per DESIGN.md); two routes over net/http's own ServeMux need
// no router, so this is the one place in the tree that reaches for the
// standard library by deliberate choice rather than gap-filling.
package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"stever/internal/noderpc"
)

// StatsProvider is the subset of noderpc.Client the status server reads.
type StatsProvider interface {
	GetStats(ctx context.Context) (noderpc.NodeStats, error)
	GetRawStats(ctx context.Context) (map[string]json.RawMessage, error)
}

// ValidatorDescriptor is a static, display-only summary of the
// configured validator section, refreshed by the caller whenever its
// config.Source reloads.
type ValidatorDescriptor struct {
	Mode          string `json:"mode"` // "single", "pool", or "unconfigured"
	WalletAddress string `json:"wallet_address,omitempty"`
	PoolAddress   string `json:"pool_address,omitempty"`
}

// Server serves GET /status (node stats plus the configured validator
// summary) and GET /status/raw (the node's unparsed stats passthrough).
// It holds no election-loop state of its own: every request round-trips
// to the node, so the endpoint never drifts from what the node itself
// reports.
type Server struct {
	stats StatsProvider
	log   *logrus.Entry

	validator func() ValidatorDescriptor

	httpServer *http.Server
}

// Config wires a Server. Stats is required; Validator defaults to
// reporting "unconfigured".
type Config struct {
	Addr      string
	Stats     StatsProvider
	Validator func() ValidatorDescriptor
	Log       *logrus.Entry

	// RequestTimeout bounds each request's round trip to the node.
	RequestTimeout time.Duration
}

// New builds a Server from cfg, applying defaults for unset fields.
func New(cfg Config) *Server {
	s := &Server{
		stats:     cfg.Stats,
		validator: cfg.Validator,
		log:       cfg.Log,
	}
	if s.validator == nil {
		s.validator = func() ValidatorDescriptor { return ValidatorDescriptor{Mode: "unconfigured"} }
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus(timeout))
	mux.HandleFunc("/status/raw", s.handleRawStatus(timeout))
	mux.HandleFunc("/healthz", s.handleHealthz)

	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:3032"
	}
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler returns the server's http.Handler, for tests and for embedding
// behind a different listener than ListenAndServe's own.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe blocks serving the status endpoint until ctx is
// cancelled, at which point it shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("status server shutdown did not complete cleanly")
		}
		return ctx.Err()
	}
}

type statusResponse struct {
	Ready        bool                `json:"ready"`
	SyncStatus   string              `json:"sync_status"`
	NodeVersion  string              `json:"node_version,omitempty"`
	McTimeDiff   int32               `json:"mc_time_diff"`
	Validator    ValidatorDescriptor `json:"validator"`
}

func (s *Server) handleStatus(timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		stats, err := s.stats.GetStats(ctx)
		if err != nil {
			s.log.WithError(err).Warn("status: get stats failed")
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		resp := statusResponse{
			Ready:      stats.Ready,
			SyncStatus: stats.SyncStatus,
			McTimeDiff: stats.McTimeDiff,
			Validator:  s.validator(),
		}
		if stats.Ready {
			resp.NodeVersion = formatNodeVersion(stats.NodeVersion)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleRawStatus(timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		raw, err := s.stats.GetRawStats(ctx)
		if err != nil {
			s.log.WithError(err).Warn("status: get raw stats failed")
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, raw)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func formatNodeVersion(v noderpc.NodeVersion) string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
