package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/Proton-105/earnyha-bot/internal/health"
)

// HealthChecker exposes liveness and readiness checks.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// HealthEndpoints answers liveness from the process itself and readiness from the
// dependency checks.
type HealthEndpoints struct {
	checker *health.Checker
	log     *slog.Logger
}

// NewHealthEndpoints creates a new HealthEndpoints instance.
func NewHealthEndpoints(checker *health.Checker, log *slog.Logger) *HealthEndpoints {
	if log == nil {
		log = slog.Default()
	}
	return &HealthEndpoints{checker: checker, log: log}
}

// Liveness reports success while the process can serve requests.
func (p *HealthEndpoints) Liveness(ctx context.Context) error {
	p.log.Debug("liveness check called")
	return nil
}

// Readiness fails when any dependency check fails.
func (p *HealthEndpoints) Readiness(ctx context.Context) error {
	if p.checker == nil {
		return nil
	}

	results, healthy := p.checker.Check(ctx)
	if healthy {
		return nil
	}

	failed := make([]string, 0, len(results))
	for name, status := range results {
		if status != health.StatusOK {
			failed = append(failed, name+": "+status)
		}
	}
	sort.Strings(failed)

	return errors.New(strings.Join(failed, "; "))
}

// Status returns per-component results for the readiness endpoint.
func (p *HealthEndpoints) Status(ctx context.Context) map[string]string {
	if p.checker == nil {
		return map[string]string{}
	}
	results, _ := p.checker.Check(ctx)
	return results
}

// LivenessHandler serves /healthz.
func LivenessHandler(endpoints HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := endpoints.Liveness(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": health.StatusOK})
	}
}

// ReadinessHandler serves /readyz with the status of every component.
func ReadinessHandler(endpoints *HealthEndpoints) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := endpoints.Status(r.Context())

		code := http.StatusOK
		for _, status := range results {
			if status != health.StatusOK {
				code = http.StatusServiceUnavailable
				break
			}
		}

		writeJSON(w, code, results)
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
