package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Bidon15/indexer-agent/internal/config"
	"github.com/Bidon15/indexer-agent/internal/database"
	"github.com/Bidon15/indexer-agent/internal/middleware"
)

// Server is the management API HTTP server.
type Server struct {
	http *http.Server
}

// NewServer builds the router and binds the GraphQL schema to the
// resolver.
func NewServer(cfg config.ServerConfig, resolver *Resolver, db *database.Postgres, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := graphql.ParseSchema(Schema, resolver)
	if err != nil {
		return nil, fmt.Errorf("failed to parse management schema: %w", err)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","component":"database"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","database":"connected"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/", &relay.Handler{Schema: schema})

	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  time.Minute,
		},
	}, nil
}

// ListenAndServe blocks serving the management API.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Addr is the bind address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
