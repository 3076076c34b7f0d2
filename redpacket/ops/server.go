package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ellavondegurechaff/redpacket/redpacket/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc returns nil while the engine can serve grabs.
type HealthFunc func(ctx context.Context) error

// ProcessLister reports the supervised background loops.
type ProcessLister interface {
	ListProcesses() []utils.ProcessInfo
}

type health struct {
	Status    string              `json:"status"`
	Error     string              `json:"error,omitempty"`
	Processes []utils.ProcessInfo `json:"processes,omitempty"`
}

// NewRouter serves /metrics from gatherer and /healthz from check.
// processes may be nil.
func NewRouter(gatherer prometheus.Gatherer, check HealthFunc, processes ProcessLister) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		body := health{Status: "ok"}
		code := http.StatusOK
		if err := check(ctx); err != nil {
			body.Status, body.Error = "unavailable", err.Error()
			code = http.StatusServiceUnavailable
		}
		if processes != nil {
			body.Processes = processes.ListProcesses()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	})
	return r
}

// Server is the operator-facing HTTP listener.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	slog.Info("Ops server listening",
		slog.String("type", "sys"),
		slog.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
