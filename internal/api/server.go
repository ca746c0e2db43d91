package api

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/nicodishanthj/fieldq/internal/common"
	"github.com/nicodishanthj/fieldq/internal/engine"
	"github.com/nicodishanthj/fieldq/internal/schema"
	"github.com/nicodishanthj/fieldq/internal/sqlite"
)

// Asker is the query engine surface the server drives.
type Asker interface {
	Ask(ctx context.Context, req engine.Request) engine.Response
	Schema(ctx context.Context) (*schema.Snapshot, string, error)
	Invalidate()
}

// Ledger serves the audit and usage history. Optional.
type Ledger interface {
	RecentAudit(ctx context.Context, filter sqlite.AuditFilter) ([]sqlite.AuditRecord, error)
	UsageTotals(ctx context.Context, since time.Time) (sqlite.UsageTotals, error)
}

type Server struct {
	router chi.Router
	asker  Asker
	ledger Ledger
	auth   *authenticator
	cfg    Config
}

// Config controls authentication and request limits.
type Config struct {
	JWTSecret    string
	TrustHeaders bool
	// MaxBodyBytes bounds POST bodies.
	MaxBodyBytes int64
}

// DefaultConfig returns the standard configuration used when no overrides are
// provided.
func DefaultConfig() Config {
	return Config{MaxBodyBytes: 64 << 10}
}

// Merge overlays non-empty fields from the override onto the base configuration.
func (c Config) Merge(override Config) Config {
	result := c
	if strings.TrimSpace(override.JWTSecret) != "" {
		result.JWTSecret = strings.TrimSpace(override.JWTSecret)
	}
	if override.TrustHeaders {
		result.TrustHeaders = true
	}
	if override.MaxBodyBytes > 0 {
		result.MaxBodyBytes = override.MaxBodyBytes
	}
	return result
}

func NewServer(asker Asker, ledger Ledger, cfg *Config) (*Server, error) {
	logger := common.Logger()
	if asker == nil {
		return nil, errors.New("query engine required")
	}
	configuration := DefaultConfig()
	if cfg != nil {
		configuration = configuration.Merge(*cfg)
	}
	if configuration.JWTSecret == "" && !configuration.TrustHeaders {
		logger.Warn("api: no authentication configured; every /v1 request will be refused")
	}
	srv := &Server{
		router: chi.NewRouter(),
		asker:  asker,
		ledger: ledger,
		auth:   newAuthenticator(configuration.JWTSecret, configuration.TrustHeaders),
		cfg:    configuration,
	}
	srv.routes()
	logger.Info("api: server ready", "jwt", configuration.JWTSecret != "", "trust_headers", configuration.TrustHeaders, "ledger", ledger != nil)
	return srv, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := common.Logger()
	logger.Info("api: configuring routes")
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
			ctx := common.WithRequestID(r.Context(), requestID)
			w.Header().Set("X-Request-Id", common.RequestID(ctx))
			next.ServeHTTP(w, r.WithContext(ctx))
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr, "request_id", common.RequestID(ctx))
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(s.auth.middleware)
		r.Post("/query", s.handleQuery)

		r.Group(func(r chi.Router) {
			r.Use(requirePrivileged)
			r.Get("/schema", s.handleSchema)
			r.Post("/schema/invalidate", s.handleSchemaInvalidate)
			r.Get("/audit", s.handleAudit)
			r.Get("/usage", s.handleUsage)
			r.Get("/logs", s.handleLogs)
			r.Handle("/debug/vars", expvar.Handler())
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
