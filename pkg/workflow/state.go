// Package workflow drives the staged analysis run: the sequential
// static prelude (S1), the narrative stage (S2), the four parallel S3
// subtasks, and the final join/aggregation stage (S4), as described in
// spec.md §4.10.
package workflow

import (
	"sync"
	"time"
)

// Stage identifies one step of the staged run, mirroring
// pkg/agent/state.go's LoopPhase enum.
type Stage int

const (
	StageIdle Stage = iota
	StagePrelude
	StageNarrative
	StageComponents
	StageDiagramOverview
	StageDiagramBalanced
	StageDiagramDetailed
	StageFinalize
	StageComplete
	StageFailed
)

// String returns the progress label persisted alongside a run.
func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StagePrelude:
		return "prelude"
	case StageNarrative:
		return "narrative"
	case StageComponents:
		return "components"
	case StageDiagramOverview:
		return "diagram_overview"
	case StageDiagramBalanced:
		return "diagram_balanced"
	case StageDiagramDetailed:
		return "diagram_detailed"
	case StageFinalize:
		return "finalize"
	case StageComplete:
		return "complete"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StageTransition records one move between stages.
type StageTransition struct {
	From      Stage
	To        Stage
	Timestamp time.Time
	Reason    string
}

// RunState tracks the in-flight progress of a single analysis run,
// adapted from pkg/agent/state.go's LoopState: a mutex-guarded struct
// with a transition history and a progress percentage, generalized from
// a single linear loop to the S1/S2/S3*/S4 stage set.
type RunState struct {
	mu sync.RWMutex

	Stage Stage

	StageStart     time.Time
	LastTransition time.Time

	completedStages int
	totalStages     int

	history []StageTransition

	errorLog *ErrorLog
}

// NewRunState creates a state tracker starting at StageIdle, with
// errors accumulated on the given log (shared across the run's
// concurrent S3 subtasks).
func NewRunState(errorLog *ErrorLog) *RunState {
	return &RunState{
		Stage:          StageIdle,
		LastTransition: time.Now(),
		totalStages:    7, // prelude, narrative, components, 3 diagrams, finalize
		errorLog:       errorLog,
	}
}

// Transition moves to a new stage, recording history. Transitioning to
// the same stage is a no-op.
func (s *RunState) Transition(stage Stage, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Stage == stage {
		return
	}

	now := time.Now()
	s.history = append(s.history, StageTransition{
		From:      s.Stage,
		To:        stage,
		Timestamp: now,
		Reason:    reason,
	})
	s.Stage = stage
	s.StageStart = now
	s.LastTransition = now
}

// CompleteStage marks one of the seven trackable stages done, advancing
// the progress percentage.
func (s *RunState) CompleteStage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedStages++
}

// Progress returns completion percentage (0-100).
func (s *RunState) Progress() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.totalStages == 0 {
		return 0
	}
	return s.completedStages * 100 / s.totalStages
}

// CurrentStage returns the stage under the read lock.
func (s *RunState) CurrentStage() Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Stage
}

// History returns a copy of the recorded transitions.
func (s *RunState) History() []StageTransition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StageTransition, len(s.history))
	copy(out, s.history)
	return out
}

// StageDuration reports how long the current stage has been running.
func (s *RunState) StageDuration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.StageStart)
}

// ErrorLog is the run's append-only, lock-protected error record
// (spec.md §5 "Shared resources": "the error log is the only shared
// mutable structure; appends must be atomic").
type ErrorLog struct {
	mu      sync.Mutex
	entries []LogEntry
}

// LogEntry is one degrading or informational error-log record.
type LogEntry struct {
	Stage     string
	Kind      string
	Message   string
	Timestamp time.Time
}

// NewErrorLog builds an empty log.
func NewErrorLog() *ErrorLog {
	return &ErrorLog{}
}

// Append atomically records one entry.
func (l *ErrorLog) Append(stage, kind, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{
		Stage:     stage,
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Entries returns a copy of the accumulated log.
func (l *ErrorLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Empty reports whether nothing has been logged.
func (l *ErrorLog) Empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries) == 0
}
