package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"spoolhub/internal/ratelimit"
	"spoolhub/internal/util"
	"spoolhub/pkg/store"
	"spoolhub/services/api/internal/app"
	"spoolhub/services/api/internal/security"
)

var errAppRequired = errors.New("server: app is required")

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer       prometheus.Gatherer
	LoginLimiter   ratelimit.Limiter
	RenewLimiter   ratelimit.Limiter
	Alerter        *security.AuditAlerter
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64
}

// Server exposes the spoolhub HTTP API.
type Server struct {
	app            *app.App
	router         *mux.Router
	gatherer       prometheus.Gatherer
	loginLimiter   ratelimit.Limiter
	renewLimiter   ratelimit.Limiter
	alerter        *security.AuditAlerter
	trusted        *util.TrustedProxies
	maxUploadBytes int64
}

// New constructs the server with routes configured. Missing limiters fall
// back to in-process token buckets.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errAppRequired
	}
	loginLimiter := cfg.LoginLimiter
	if loginLimiter == nil {
		l, err := ratelimit.NewTokenBucketLimiter(10, time.Minute)
		if err != nil {
			return nil, err
		}
		loginLimiter = l
	}
	renewLimiter := cfg.RenewLimiter
	if renewLimiter == nil {
		l, err := ratelimit.NewTokenBucketLimiter(20, time.Minute)
		if err != nil {
			return nil, err
		}
		renewLimiter = l
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		app:            cfg.App,
		router:         mux.NewRouter(),
		gatherer:       gatherer,
		loginLimiter:   loginLimiter,
		renewLimiter:   renewLimiter,
		alerter:        cfg.Alerter,
		trusted:        cfg.TrustedProxies,
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog(s.trusted, s.router))))
}

func (s *Server) routes() {
	r := s.router
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/.well-known/jwks.json", s.handleJWKS).Methods(http.MethodGet)

	// auth
	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	auth.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	auth.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	auth.HandleFunc("/token/renew", s.handleRenew).Methods(http.MethodPost)
	auth.HandleFunc("/jwks", s.handleJWKS).Methods(http.MethodGet)
	auth.Handle("/password", s.authenticated(s.handleChangePassword)).Methods(http.MethodPost)
	auth.HandleFunc("/password/restore", s.handleRestorePassword).Methods(http.MethodPost)
	auth.Handle("/password/confirm", s.authenticated(s.handleConfirmPassword)).Methods(http.MethodPost)

	// account
	r.Handle("/users/me", s.authenticated(s.handleGetUser)).Methods(http.MethodGet)
	r.Handle("/users/me", s.authenticated(s.handleUpdateUser)).Methods(http.MethodPatch)
	r.Handle("/users/me", s.authenticated(s.handleDeleteUser)).Methods(http.MethodDelete)
	r.Handle("/users-settings", s.authenticated(s.handleGetSettings)).Methods(http.MethodGet)
	r.Handle("/users-settings", s.authenticated(s.handleUpdateSettings)).Methods(http.MethodPatch)

	// filaments
	r.Handle("/filaments", s.authenticated(s.handleListFilaments)).Methods(http.MethodGet)
	r.Handle("/filaments", s.authenticated(s.handleCreateFilament)).Methods(http.MethodPost)
	r.Handle("/filaments/{filamentId}", s.authenticated(s.handleGetFilament)).Methods(http.MethodGet)
	r.Handle("/filaments/{filamentId}", s.authenticated(s.handleUpdateFilament)).Methods(http.MethodPatch)
	r.Handle("/filaments/{filamentId}", s.authenticated(s.handleDeleteFilament)).Methods(http.MethodDelete)
	r.Handle("/filaments/{filamentId}/type/{deleteType}", s.authenticated(s.handleDeleteFilament)).Methods(http.MethodDelete)

	// rolls
	r.Handle("/rolls", s.authenticated(s.handleListRolls)).Methods(http.MethodGet)
	r.Handle("/rolls", s.authenticated(s.handleCreateRoll)).Methods(http.MethodPost)
	r.Handle("/rolls/statistics", s.authenticated(s.handleRollStatistics)).Methods(http.MethodGet)
	r.Handle("/rolls/filament/{filamentId}", s.authenticated(s.handleListRollsByFilament)).Methods(http.MethodGet)
	r.Handle("/rolls/{rollId}", s.authenticated(s.handleGetRoll)).Methods(http.MethodGet)
	r.Handle("/rolls/{rollId}", s.authenticated(s.handleUpdateRoll)).Methods(http.MethodPatch)
	r.Handle("/rolls/{rollId}", s.authenticated(s.handleDeleteRoll)).Methods(http.MethodDelete)
	r.Handle("/rolls/{rollId}/type/{deleteType}", s.authenticated(s.handleDeleteRoll)).Methods(http.MethodDelete)
	r.Handle("/rolls/{rollId}/archive", s.authenticated(s.handleArchiveRoll)).Methods(http.MethodPatch)
	r.Handle("/rolls/{rollId}/weight", s.authenticated(s.handleConsumeRoll)).Methods(http.MethodPatch)

	// orders
	r.Handle("/orders", s.authenticated(s.handleListOrders)).Methods(http.MethodGet)
	r.Handle("/orders", s.authenticated(s.handleCreateOrder)).Methods(http.MethodPost)
	r.Handle("/orders/{orderId}", s.authenticated(s.handleGetOrder)).Methods(http.MethodGet)
	r.Handle("/orders/{orderId}", s.authenticated(s.handleUpdateOrder)).Methods(http.MethodPatch)
	r.Handle("/orders/{orderId}", s.authenticated(s.handleDeleteOrder)).Methods(http.MethodDelete)
	r.Handle("/orders/{orderId}/type/{deleteType}", s.authenticated(s.handleDeleteOrder)).Methods(http.MethodDelete)
	r.Handle("/orders/{orderId}/complete", s.authenticated(s.handleCompleteOrder)).Methods(http.MethodPatch)
	r.Handle("/orders/{orderId}/archive", s.authenticated(s.handleArchiveOrder)).Methods(http.MethodPatch)

	// projects
	r.Handle("/projects", s.authenticated(s.handleListProjects)).Methods(http.MethodGet)
	r.Handle("/projects", s.authenticated(s.handleCreateProject)).Methods(http.MethodPost)
	r.Handle("/projects/{projectId}", s.authenticated(s.handleGetProject)).Methods(http.MethodGet)
	r.Handle("/projects/{projectId}", s.authenticated(s.handleUpdateProject)).Methods(http.MethodPatch)
	r.Handle("/projects/{projectId}", s.authenticated(s.handleDeleteProject)).Methods(http.MethodDelete)
	r.Handle("/projects/{projectId}/type/{deleteType}", s.authenticated(s.handleDeleteProject)).Methods(http.MethodDelete)
	r.Handle("/projects/{projectId}/files", s.authenticated(s.handleUploadFile)).Methods(http.MethodPost)
	r.Handle("/projects/{projectId}/files/{fileId}", s.authenticated(s.handleDownloadFile)).Methods(http.MethodGet)
	r.Handle("/projects/{projectId}/files/{fileId}", s.authenticated(s.handleDeleteFile)).Methods(http.MethodDelete)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	keys := s.app.JWKS()
	if keys == nil {
		keys = []store.JWK{}
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeErrorBody(w, errorBody{
		Status:  http.StatusNotFound,
		Message: "Route " + r.URL.RequestURI() + " not found.",
		Issues:  []string{"url"},
	})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeErrorBody(w, errorBody{
		Status:  http.StatusMethodNotAllowed,
		Message: "This method is not allowed",
	})
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 * 1024 * 1024
	}
	return value
}
