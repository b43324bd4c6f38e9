package lifecycle

import "context"

// Phase orders shutdown hooks. Every hook of a phase finishes before the
// next phase starts; hooks within a phase run concurrently.
type Phase int

const (
	// PhaseStopIntake stops accepting new work: polling, schedules.
	PhaseStopIntake Phase = iota
	// PhaseDrain waits for in-flight work to finish.
	PhaseDrain
	// PhaseRelease closes connections the earlier phases still used.
	PhaseRelease
)

// Hook is a named shutdown step.
type Hook struct {
	Name  string
	Phase Phase
	Fn    func(ctx context.Context) error
}
