package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbor-fed/arbor/internal/actor"
	"github.com/arbor-fed/arbor/internal/httpsig"
	"github.com/arbor-fed/arbor/internal/metrics"
	"github.com/arbor-fed/arbor/internal/platform/middleware"
)

// Dependencies holds all injected dependencies for the server.
type Dependencies struct {
	Pool         *pgxpool.Pool
	Verifier     *httpsig.Verifier
	ActorHandler *actor.Handler
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

type Server struct {
	httpServer *http.Server
	pool       *pgxpool.Pool
	handler    http.Handler
	logger     *slog.Logger
}

func New(addr string, deps Dependencies) *Server {
	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		pool:   deps.Pool,
		logger: deps.Logger,
	}

	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReadiness)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	if deps.ActorHandler != nil {
		mux.HandleFunc("GET /users/{username}", deps.ActorHandler.HandleGetActor)
	}

	// Delivery endpoints — every inbound activity must carry a valid
	// HTTP signature.
	if deps.Verifier != nil {
		var outcomes httpsig.Outcomes
		if deps.Metrics != nil {
			outcomes = deps.Metrics
		}
		signed := httpsig.Middleware(deps.Verifier, outcomes)
		mux.Handle("POST /inbox", signed(http.HandlerFunc(s.handleInbox)))
		mux.Handle("POST /users/{username}/inbox", signed(http.HandlerFunc(s.handleInbox)))
	}

	// Observability middleware; RequestID outermost so the logger sees it.
	var handler http.Handler = mux
	if deps.Logger != nil {
		handler = middleware.Logging(deps.Logger)(handler)
	}
	handler = middleware.RequestID(handler)

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// handleInbox accepts a signed activity for asynchronous processing.
// Delivery handling itself is out of scope here; the signer has already
// been authenticated by the middleware.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	signer := httpsig.ActorFromContext(r.Context())
	if signer == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "request not signed"})
		return
	}

	if s.logger != nil {
		s.logger.Info("activity accepted",
			"signer", signer.URI,
			"domain", signer.Domain,
			"inbox", r.URL.Path,
		)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database not connected",
		})
		return
	}

	if err := s.pool.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database ping failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
