package handler

import (
	"context"
	"net/http"
	"time"

	"notes-server/internal/config"
	"notes-server/internal/middleware"
	"notes-server/internal/service"
	"notes-server/pkg/response"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HealthCheck reports whether the backing store is reachable.
type HealthCheck func(ctx context.Context) error

// RouterConfig wires the handlers. TrustProxyHeaders lets X-Forwarded-*
// shape share URLs when ShareBaseURL is empty.
type RouterConfig struct {
	AuthService       *service.AuthService
	UserService       *service.UserService
	NoteService       *service.NoteService
	ShareBaseURL      string
	TrustProxyHeaders bool
	CORS              config.CORSConfig
	Health            HealthCheck
	Log               zerolog.Logger
}

func NewRouter(cfg RouterConfig) *mux.Router {
	authHandler := NewAuthHandler(cfg.AuthService, cfg.Log)
	userHandler := NewUserHandler(cfg.UserService, cfg.Log)
	noteHandler := NewNoteHandler(cfg.NoteService, cfg.ShareBaseURL, cfg.TrustProxyHeaders, cfg.Log)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware(cfg.Log))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.CORSMiddleware(cfg.CORS))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/register", authHandler.Register).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/refresh", authHandler.Refresh).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.AuthService))

	protected.HandleFunc("/users/me", userHandler.GetMe).Methods("GET", "OPTIONS")

	protected.HandleFunc("/notes", noteHandler.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/notes", noteHandler.Create).Methods("POST", "OPTIONS")
	protected.HandleFunc("/notes/{id}", noteHandler.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/notes/{id}", noteHandler.Update).Methods("PUT", "OPTIONS")
	protected.HandleFunc("/notes/{id}", noteHandler.Delete).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/notes/{id}/share", noteHandler.Share).Methods("POST", "OPTIONS")

	r.HandleFunc("/share/{token}", noteHandler.GetPublic).Methods("GET", "OPTIONS")

	r.HandleFunc("/health", healthHandler(cfg.Health)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

func healthHandler(check HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := check(ctx); err != nil {
				response.Error(w, http.StatusServiceUnavailable, "store unreachable")
				return
			}
		}

		response.Success(w, map[string]string{
			"status":  "healthy",
			"service": "notes-server",
		})
	}
}
