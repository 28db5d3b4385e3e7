package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timevault-hq/timevault-executor/pkg/circuitbreaker"
	"github.com/timevault-hq/timevault-executor/pkg/executor"
	"github.com/timevault-hq/timevault-executor/pkg/logger"
)

// Server exposes health, readiness, status, and Prometheus metrics over
// HTTP.
type Server struct {
	port          string
	service       *executor.Service
	breaker       *circuitbreaker.CircuitBreaker
	metricsAPIKey string
	log           logger.Logger
}

// NewServer creates a health check server. The metrics endpoint is guarded
// by METRICS_API_KEY when set.
func NewServer(port string, service *executor.Service, breaker *circuitbreaker.CircuitBreaker, log logger.Logger) *Server {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Server{
		port:          port,
		service:       service,
		breaker:       breaker,
		metricsAPIKey: os.Getenv("METRICS_API_KEY"),
		log:           log,
	}
}

// metricsAuthMiddleware checks for a valid API key on the metrics endpoint.
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start runs the health server. It blocks until the listener fails.
func (s *Server) Start() {
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Readiness: not ready while the ledger circuit breaker is open.
	http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if s.breaker != nil && s.breaker.IsOpen() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Ledger circuit breaker is open"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	http.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		circuitStatus := "closed"
		failureCount := 0
		if s.breaker != nil {
			var tripped bool
			failureCount, tripped = s.breaker.State()
			if tripped {
				circuitStatus = "open"
			}
		}

		status := map[string]interface{}{
			"circuit":          circuitStatus,
			"circuit_failures": failureCount,
			"retry_queue":      s.service.RetryQueueLen(),
			"in_flight":        s.service.InflightCount(),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			s.log.ErrorWith(logger.Health, "Error encoding status JSON: %v", err)
		}
	})

	// Operator escape hatch when the breaker tripped on a resolved outage.
	http.HandleFunc("/circuit/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if s.breaker == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("No circuit breaker configured"))
			return
		}
		s.breaker.Reset()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Circuit breaker reset"))
	})

	http.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))

	s.log.InfoWith(logger.Health, "Starting health and metrics server on port %s", s.port)
	if err := http.ListenAndServe(fmt.Sprintf(":%s", s.port), nil); err != nil {
		s.log.ErrorWith(logger.Health, "Health server error: %v", err)
	}
}
