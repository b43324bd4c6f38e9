package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// Shutdown runs the registered hooks phase by phase.
type Shutdown struct {
	mu     sync.Mutex
	phases map[Phase][]Hook
	log    *slog.Logger
}

// NewShutdown returns an empty Shutdown.
func NewShutdown(log *slog.Logger) *Shutdown {
	if log == nil {
		log = slog.Default()
	}
	return &Shutdown{phases: map[Phase][]Hook{}, log: log}
}

// Register adds a hook to PhaseStopIntake.
func (s *Shutdown) Register(name string, fn func(context.Context) error) {
	s.RegisterPhase(PhaseStopIntake, name, fn)
}

// RegisterPhase adds a hook to phase. Nil functions are ignored.
func (s *Shutdown) RegisterPhase(phase Phase, name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases[phase] = append(s.phases[phase], Hook{Name: name, Phase: phase, Fn: fn})
}

// Execute runs every hook and returns their errors joined, ordered by
// phase. A phase starts even if the previous one failed; ctx bounds the
// whole sequence and is passed to each hook.
func (s *Shutdown) Execute(ctx context.Context) error {
	s.mu.Lock()
	phases := maps.Clone(s.phases)
	s.mu.Unlock()

	start := time.Now()
	var errs []error
	for _, phase := range slices.Sorted(maps.Keys(phases)) {
		errs = append(errs, s.runPhase(ctx, phases[phase])...)
	}
	s.log.Info("shutdown finished", slog.Duration("elapsed", time.Since(start)), slog.Int("failed_hooks", len(errs)))

	return errors.Join(errs...)
}

func (s *Shutdown) runPhase(ctx context.Context, hooks []Hook) []error {
	errs := make([]error, len(hooks))

	var wg sync.WaitGroup
	for i, h := range hooks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			started := time.Now()
			if err := h.Fn(ctx); err != nil {
				s.log.Error("shutdown hook failed", slog.String("hook", h.Name), slog.Any("error", err))
				errs[i] = fmt.Errorf("%s: %w", h.Name, err)
				return
			}
			s.log.Debug("shutdown hook done", slog.String("hook", h.Name), slog.Duration("elapsed", time.Since(started)))
		}()
	}
	wg.Wait()

	return slices.DeleteFunc(errs, func(err error) bool { return err == nil })
}
