// Package metrics records build observability data. The CLI exports it as a
// Prometheus textfile at the end of a run.
package metrics

import "time"

// UnitResult enumerates compile outcomes of a translation unit.
type UnitResult string

const (
	UnitCompiled UnitResult = "compiled"
	UnitSkipped  UnitResult = "skipped"
	UnitFailed   UnitResult = "failed"
)

// Recorder defines observability hooks for build stages, compile units and
// dependency builds. Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	IncUnitResult(result UnitResult)
	IncDependencyOutcome(name, outcome string)
	IncBuildOutcome(outcome string)
	SetWorkers(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)         {}
func (NoopRecorder) IncUnitResult(UnitResult)                   {}
func (NoopRecorder) IncDependencyOutcome(string, string)        {}
func (NoopRecorder) IncBuildOutcome(string)                     {}
func (NoopRecorder) SetWorkers(int)                             {}
