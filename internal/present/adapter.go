package present

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kousu-tools/workload-form/internal/gateway"
)

// Adapter receives derived values and styling hints from the form
// session. Implementations must not call back into the session.
type Adapter interface {
	// OnDerivedFieldsChanged delivers the derived fields whose value
	// changed in the latest recompute, already formatted for display.
	OnDerivedFieldsChanged(fields map[string]Display)
	// OnOverrideStateChanged reports a field changing hands between the
	// engine and the user.
	OnOverrideStateChanged(field string, userModified bool)
	// OnRemoteFetchStateChanged reports lookup lifecycle transitions;
	// reason is non-empty only on failure and is never fatal.
	OnRemoteFetchStateChanged(kc gateway.KeyClass, state gateway.FetchState, reason string)
}

// NopAdapter discards all notifications.
type NopAdapter struct{}

func (NopAdapter) OnDerivedFieldsChanged(map[string]Display)                          {}
func (NopAdapter) OnOverrideStateChanged(string, bool)                                {}
func (NopAdapter) OnRemoteFetchStateChanged(gateway.KeyClass, gateway.FetchState, string) {}

// LogAdapter writes notifications to the global logger. Useful standalone
// and as a tee alongside a real frontend adapter.
type LogAdapter struct{}

func (LogAdapter) OnDerivedFieldsChanged(fields map[string]Display) {
	for name, d := range fields {
		zap.L().Debug("derived field changed",
			zap.String("field", name),
			zap.Float64("value", d.Value),
			zap.String("text", d.Text),
		)
	}
}

func (LogAdapter) OnOverrideStateChanged(field string, userModified bool) {
	zap.L().Info("override state changed",
		zap.String("field", field),
		zap.Bool("user_modified", userModified),
	)
}

func (LogAdapter) OnRemoteFetchStateChanged(kc gateway.KeyClass, state gateway.FetchState, reason string) {
	if state == gateway.FetchFailure {
		zap.L().Warn("remote fetch failed",
			zap.String("key_class", string(kc)),
			zap.String("reason", reason),
		)
		return
	}
	zap.L().Debug("remote fetch state changed",
		zap.String("key_class", string(kc)),
		zap.String("state", state.String()),
	)
}

// Recorder retains the latest state of every notification. It backs the
// serve-mode snapshots and the session tests.
type Recorder struct {
	mu        sync.Mutex
	displays  map[string]Display
	overrides map[string]bool
	fetches   map[gateway.KeyClass]FetchStatus
}

// FetchStatus is the last reported state of one lookup class.
type FetchStatus struct {
	State  gateway.FetchState
	Reason string
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		displays:  make(map[string]Display),
		overrides: make(map[string]bool),
		fetches:   make(map[gateway.KeyClass]FetchStatus),
	}
}

func (r *Recorder) OnDerivedFieldsChanged(fields map[string]Display) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, d := range fields {
		r.displays[name] = d
	}
}

func (r *Recorder) OnOverrideStateChanged(field string, userModified bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[field] = userModified
}

func (r *Recorder) OnRemoteFetchStateChanged(kc gateway.KeyClass, state gateway.FetchState, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches[kc] = FetchStatus{State: state, Reason: reason}
}

// Display returns the last display pushed for a field.
func (r *Recorder) Display(field string) (Display, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.displays[field]
	return d, ok
}

// Override returns the last override state reported for a field.
func (r *Recorder) Override(field string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overrides[field]
}

// Fetch returns the last status reported for a lookup class.
func (r *Recorder) Fetch(kc gateway.KeyClass) (FetchStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.fetches[kc]
	return s, ok
}

// Fetches returns a copy of all lookup statuses.
func (r *Recorder) Fetches() map[gateway.KeyClass]FetchStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[gateway.KeyClass]FetchStatus, len(r.fetches))
	for k, v := range r.fetches {
		out[k] = v
	}
	return out
}

// Tee fans notifications out to several adapters in order.
type Tee []Adapter

func (t Tee) OnDerivedFieldsChanged(fields map[string]Display) {
	for _, a := range t {
		a.OnDerivedFieldsChanged(fields)
	}
}

func (t Tee) OnOverrideStateChanged(field string, userModified bool) {
	for _, a := range t {
		a.OnOverrideStateChanged(field, userModified)
	}
}

func (t Tee) OnRemoteFetchStateChanged(kc gateway.KeyClass, state gateway.FetchState, reason string) {
	for _, a := range t {
		a.OnRemoteFetchStateChanged(kc, state, reason)
	}
}
