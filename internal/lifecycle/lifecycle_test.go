package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/earnyha-bot/internal/health"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReadinessHandler(t *testing.T) {
	checker := health.NewChecker(discard())
	checker.AddCheck("db", health.CheckFunc(func(context.Context) error { return nil }))
	endpoints := NewHealthEndpoints(checker, discard())

	rec := httptest.NewRecorder()
	ReadinessHandler(endpoints)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	checker.AddCheck("redis", health.CheckFunc(func(context.Context) error { return errors.New("refused") }))

	rec = httptest.NewRecorder()
	ReadinessHandler(endpoints)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "refused", body["redis"])

	assert.EqualError(t, endpoints.Readiness(context.Background()), "redis: refused")
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler(NewHealthEndpoints(nil, discard()))(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestShutdownRunsAllHooks(t *testing.T) {
	s := NewShutdown(discard())

	var ran int32
	s.Register("bot", func(context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	s.Register("db", func(context.Context) error {
		atomic.AddInt32(&ran, 1)
		return errors.New("close failed")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := s.Execute(ctx)
	assert.EqualError(t, err, "db: close failed")
	assert.Equal(t, int32(2), atomic.LoadInt32(&ran))
}

func TestShutdownPhasesRunInOrder(t *testing.T) {
	s := NewShutdown(discard())

	var order []string
	s.RegisterPhase(PhaseStopIntake, "stop intake", func(context.Context) error {
		order = append(order, "bot")
		return nil
	})
	s.RegisterPhase(PhaseRelease, "close storage", func(context.Context) error {
		order = append(order, "db")
		return nil
	})

	require.NoError(t, s.Execute(context.Background()))
	assert.Equal(t, []string{"bot", "db"}, order)
}
