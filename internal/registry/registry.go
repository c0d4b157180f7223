// Package registry holds the current value and ownership tag for every
// field in a workload form. It is the single source of truth the
// derivation engine and the remote gateway read from and write to.
package registry

import (
	"github.com/kousu-tools/workload-form/internal/model"
)

// ChangeFunc is invoked after every write that actually changed a value,
// and after every Reset. The scheduler hooks in here.
type ChangeFunc func(name string)

// Registry stores form fields by name. It is owned by a single form
// session goroutine and is not safe for concurrent use.
type Registry struct {
	fields    map[string]*model.Field
	order     []string
	protected map[string]bool
	onChange  ChangeFunc
}

// New creates a registry carrying the given fields, all starting with no
// value, source Derived, and validity Valid. Fields listed in protected
// refuse derived writes once the user has taken them over.
func New(names []string, protected []string) *Registry {
	r := &Registry{
		fields:    make(map[string]*model.Field, len(names)),
		order:     make([]string, 0, len(names)),
		protected: make(map[string]bool, len(protected)),
	}
	for _, n := range names {
		if _, ok := r.fields[n]; ok {
			continue
		}
		r.fields[n] = &model.Field{Name: n}
		r.order = append(r.order, n)
	}
	for _, n := range protected {
		r.protected[n] = true
	}
	return r
}

// NewDefault creates a registry with the canonical workload form fields.
// Only estimatedWorkdays and availableAmount are user-overridable against
// the engine; everything else is either a plain input or display-only.
func NewDefault() *Registry {
	return New(model.AllFields, []string{
		model.FieldEstimatedWorkdays,
		model.FieldAvailableAmount,
	})
}

// SetOnChange installs the change hook. Pass nil to detach.
func (r *Registry) SetOnChange(fn ChangeFunc) {
	r.onChange = fn
}

// Get returns a copy of the named field.
func (r *Registry) Get(name string) (model.Field, bool) {
	f, ok := r.fields[name]
	if !ok {
		return model.Field{}, false
	}
	return *f, true
}

// Num returns the named field's numeric value, treating unknown, absent,
// or non-finite values as zero.
func (r *Registry) Num(name string) float64 {
	f, ok := r.fields[name]
	if !ok {
		return 0
	}
	return f.Num()
}

// Set writes a value from the derivation or gateway path. The write is
// refused (no-op, returns false) when the field is protected and the user
// has taken it over; unprotected fields accept gateway writes regardless
// of their source tag, but the tag itself never flips back to Derived.
// A write that changes the value marks the field Valid and fires the
// change hook.
func (r *Registry) Set(name string, value float64) bool {
	f, ok := r.fields[name]
	if !ok {
		return false
	}
	if r.protected[name] && f.Source == model.SourceUserEntered {
		return false
	}
	return r.write(f, value)
}

// SetUser writes a value from the user-interaction path. The field's
// source flips to UserEntered and stays there until Reset.
func (r *Registry) SetUser(name string, value float64) bool {
	f, ok := r.fields[name]
	if !ok {
		return false
	}
	f.Source = model.SourceUserEntered
	return r.write(f, value)
}

func (r *Registry) write(f *model.Field, value float64) bool {
	changed := f.Value == nil || *f.Value != value
	f.Value = model.Ptr(value)
	f.Validity = model.ValidityValid
	if changed && r.onChange != nil {
		r.onChange(f.Name)
	}
	return changed
}

// MarkUserModified idempotently flips the field's source to UserEntered
// without touching its value. Used on focus, before any edit lands.
func (r *Registry) MarkUserModified(name string) {
	if f, ok := r.fields[name]; ok {
		f.Source = model.SourceUserEntered
	}
}

// Reset restores the field to engine ownership and fires the change hook
// so a recompute pass reclaims it, even if the value is unchanged.
func (r *Registry) Reset(name string) {
	f, ok := r.fields[name]
	if !ok {
		return
	}
	f.Source = model.SourceDerived
	if r.onChange != nil {
		r.onChange(name)
	}
}

// MarkPending flags a field as awaiting a remote fetch.
func (r *Registry) MarkPending(name string) {
	if f, ok := r.fields[name]; ok {
		f.Validity = model.ValidityPending
	}
}

// MarkInvalid flags a field as holding a fallback default after a failed
// remote fetch.
func (r *Registry) MarkInvalid(name string) {
	if f, ok := r.fields[name]; ok {
		f.Validity = model.ValidityInvalid
	}
}

// IsProtected reports whether derived writes to the field are refused
// after a user override.
func (r *Registry) IsProtected(name string) bool {
	return r.protected[name]
}

// UserModified reports whether the user owns the field.
func (r *Registry) UserModified(name string) bool {
	f, ok := r.fields[name]
	return ok && f.Source == model.SourceUserEntered
}

// Names returns the field names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Snapshot returns a copy of every field in registration order.
func (r *Registry) Snapshot() []model.Field {
	out := make([]model.Field, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, *r.fields[n])
	}
	return out
}
