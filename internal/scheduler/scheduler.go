// Package scheduler serializes recompute passes over the field registry.
// It replaces the ad hoc "is calculating" flag of older form variants
// with an explicit state machine whose re-entrancy guard is auditable.
package scheduler

import "go.uber.org/zap"

// State is the scheduler's position in its Idle -> Scheduled -> Running
// cycle.
type State int

const (
	// StateIdle means no pass is pending or executing.
	StateIdle State = iota
	// StateScheduled means at least one trigger arrived and a pass will
	// run at the next flush. Further triggers coalesce into it.
	StateScheduled
	// StateRunning means a pass is executing. Triggers arriving now (the
	// engine's own writes included) are recorded, not executed.
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	default:
		return "idle"
	}
}

// Scheduler coalesces recompute triggers and guarantees at most one pass
// executes at a time. It is owned by a single session goroutine and is
// not safe for concurrent use.
type Scheduler struct {
	state  State
	dirty  bool
	passes int
}

// New creates an idle scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Trigger records that a recompute is needed. While Idle it schedules a
// pass; while Scheduled it coalesces; while Running it marks the current
// pass dirty so exactly one follow-up runs after it completes.
func (s *Scheduler) Trigger() {
	switch s.state {
	case StateIdle:
		s.state = StateScheduled
	case StateScheduled:
		// Coalesced into the pending pass.
	case StateRunning:
		s.dirty = true
	}
}

// maxFollowUps bounds self-triggered recomputation. The engine reaches a
// fixed point internally, so one follow-up pass over unchanged inputs
// produces no writes; anything beyond that is a rule-set defect.
const maxFollowUps = 1

// Flush executes the pending pass, if any, by calling pass. Registry
// writes made by pass re-enter via Trigger and are recorded as dirty;
// a dirty pass is followed by exactly one more. Returns the number of
// passes run.
func (s *Scheduler) Flush(pass func()) int {
	ran := 0
	for s.state == StateScheduled {
		s.state = StateRunning
		s.dirty = false
		pass()
		ran++
		if !s.dirty {
			s.state = StateIdle
			break
		}
		if ran > maxFollowUps {
			zap.L().Warn("scheduler: pass still dirty after follow-up, forcing idle",
				zap.Int("passes", ran),
			)
			s.state = StateIdle
			break
		}
		s.state = StateScheduled
	}
	s.passes += ran
	return ran
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	return s.state
}

// Pending reports whether a pass is waiting to run.
func (s *Scheduler) Pending() bool {
	return s.state == StateScheduled
}

// Passes returns the total number of passes run since creation.
func (s *Scheduler) Passes() int {
	return s.passes
}
