package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTriggerSchedulesFromIdle(t *testing.T) {
	t.Parallel()
	s := New()
	assert.Equal(t, StateIdle, s.State())

	s.Trigger()
	assert.Equal(t, StateScheduled, s.State())
	assert.True(t, s.Pending())
}

func TestTriggersCoalesce(t *testing.T) {
	t.Parallel()
	s := New()
	s.Trigger()
	s.Trigger()
	s.Trigger()

	ran := s.Flush(func() {})
	assert.Equal(t, 1, ran, "a burst of triggers runs a single pass")
	assert.Equal(t, StateIdle, s.State())
}

func TestFlushWithoutTriggerIsNoOp(t *testing.T) {
	t.Parallel()
	s := New()
	ran := s.Flush(func() { t.Fatal("pass must not run") })
	assert.Zero(t, ran)
}

func TestSelfTriggerRunsExactlyOneFollowUp(t *testing.T) {
	t.Parallel()
	s := New()
	s.Trigger()

	calls := 0
	ran := s.Flush(func() {
		calls++
		if calls == 1 {
			// The engine's own writes re-enter here.
			s.Trigger()
			assert.Equal(t, StateRunning, s.State(), "trigger during a pass must not recurse")
		}
	})

	assert.Equal(t, 2, ran)
	assert.Equal(t, 2, calls)
	assert.Equal(t, StateIdle, s.State())
}

func TestDivergentPassIsBounded(t *testing.T) {
	t.Parallel()
	s := New()
	s.Trigger()

	// Pathological pass that always re-triggers: the scheduler must force
	// idle instead of looping.
	ran := s.Flush(func() { s.Trigger() })

	assert.Equal(t, 2, ran)
	assert.Equal(t, StateIdle, s.State())
}

func TestPassesAccumulate(t *testing.T) {
	t.Parallel()
	s := New()

	s.Trigger()
	s.Flush(func() {})
	s.Trigger()
	s.Flush(func() {})

	assert.Equal(t, 2, s.Passes())
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "scheduled", StateScheduled.String())
	assert.Equal(t, "running", StateRunning.String())
}
