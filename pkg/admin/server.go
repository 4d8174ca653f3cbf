package admin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/ztdns/gateway/pkg/bundle"
	"github.com/ztdns/gateway/pkg/config"
	"github.com/ztdns/gateway/pkg/log"
	"github.com/ztdns/gateway/pkg/metrics"
	"github.com/ztdns/gateway/pkg/security"
	"github.com/ztdns/gateway/pkg/storage"
)

// Server exposes the administrative HTTP API on port 5001: CRUD over
// endpoints, zones, and routes, plus deployment bundle retrieval. The
// web UI and its templates are an external collaborator of this API.
type Server struct {
	store   storage.Store
	logger  zerolog.Logger
	ca      *security.CertAuthority
	cfg     *config.Config
	bundles *bundle.Builder

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates the administrative API server
func NewServer(store storage.Store, ca *security.CertAuthority, cfg *config.Config) *Server {
	return &Server{
		store:   store,
		logger:  log.WithComponent("admin"),
		ca:      ca,
		cfg:     cfg,
		bundles: bundle.NewBuilder(cfg.DataDir),
	}
}

// Router builds the HTTP route table
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/v1/clients", s.handleCreateClient).Methods(http.MethodPost)
	r.HandleFunc("/v1/services", s.handleCreateService).Methods(http.MethodPost)
	r.HandleFunc("/v1/endpoints", s.handleListEndpoints).Methods(http.MethodGet)
	r.HandleFunc("/v1/endpoints/{cn}", s.handleDeleteEndpoint).Methods(http.MethodDelete)
	r.HandleFunc("/v1/zones", s.handleListZones).Methods(http.MethodGet)
	r.HandleFunc("/v1/zones/{zone}/access", s.handleAuthorize).Methods(http.MethodPost)
	r.HandleFunc("/v1/zones/{zone}/access/{cn}", s.handleDeauthorize).Methods(http.MethodDelete)
	r.HandleFunc("/v1/routes", s.handleListRoutes).Methods(http.MethodGet)
	r.HandleFunc("/v1/bundles/{cn}", s.handleDownloadBundle).Methods(http.MethodGet)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	r.Use(s.requestLogger)
	return r
}

// Start begins serving the API
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return fmt.Errorf("admin API already running")
	}

	listener, err := net.Listen("tcp", s.cfg.AdminListen)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.AdminListen, err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info().
		Str("address", s.cfg.AdminListen).
		Msg("administrative API started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("admin API server error")
		}
	}()

	return nil
}

// Stop gracefully shuts the API down
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Addr returns the bound listener address
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.AdminListen
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// statusRecorder captures the response code for logging and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
