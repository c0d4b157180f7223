// Package model defines the form field entities shared across the
// derivation engine, registry, and gateway.
package model

import "math"

// Source tags who owns a field's current value.
type Source int

const (
	// SourceDerived marks a value computed by the engine; it may be
	// replaced on any recompute pass.
	SourceDerived Source = iota
	// SourceUserEntered marks a value the user has taken ownership of.
	// It is immune to automatic overwrite until Reset.
	SourceUserEntered
)

func (s Source) String() string {
	if s == SourceUserEntered {
		return "user-entered"
	}
	return "derived"
}

// Validity tracks whether a field holds a usable value.
type Validity int

const (
	// ValidityValid is the normal state.
	ValidityValid Validity = iota
	// ValidityPending marks a field awaiting a remote fetch result.
	ValidityPending
	// ValidityInvalid marks a field whose remote fetch failed and which
	// holds a fallback default.
	ValidityInvalid
)

func (v Validity) String() string {
	switch v {
	case ValidityPending:
		return "pending"
	case ValidityInvalid:
		return "invalid"
	default:
		return "valid"
	}
}

// Field is one named form value with its ownership and validity tags.
type Field struct {
	Name     string
	Value    *float64
	Source   Source
	Validity Validity
}

// Num returns the field value with absent or non-numeric content treated
// as zero.
func (f Field) Num() float64 {
	if f.Value == nil {
		return 0
	}
	v := *f.Value
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Canonical field names. These match the form's input and display fields;
// the engine's rule set is parameterized over them via engine.Names.
const (
	FieldBillingAmount     = "billingAmount"
	FieldOutsourcingCost   = "outsourcingCost"
	FieldBillingUnitCost   = "billingUnitCost"
	FieldUnitCost          = "unitCost"
	FieldUsedWorkdays      = "usedWorkdays"
	FieldNewbieWorkdays    = "newbieWorkdays"
	FieldAvailableAmount   = "availableAmount"
	FieldEstimatedWorkdays = "estimatedWorkdays"
	FieldTotalUsedWorkdays = "totalUsedWorkdays"
	FieldRemainingWorkdays = "remainingWorkdays"
	FieldRemainingAmount   = "remainingAmount"
	FieldProfitRate        = "profitRate"
	FieldWIPAmount         = "wipAmount"
)

// AllFields lists every field a new registry carries.
var AllFields = []string{
	FieldBillingAmount,
	FieldOutsourcingCost,
	FieldBillingUnitCost,
	FieldUnitCost,
	FieldUsedWorkdays,
	FieldNewbieWorkdays,
	FieldAvailableAmount,
	FieldEstimatedWorkdays,
	FieldTotalUsedWorkdays,
	FieldRemainingWorkdays,
	FieldRemainingAmount,
	FieldProfitRate,
	FieldWIPAmount,
}

// Ticket classifications. WIP amount only accrues for development work.
const (
	ClassificationDevelopment = "development"
	ClassificationMaintenance = "maintenance"
)

// HoursPerWorkday converts logged hours into person-days.
const HoursPerWorkday = 8.0

// HoursToWorkdays converts a raw hour total into person-days at 8 hours
// per day, the convention used by the workday breakdown endpoints.
func HoursToWorkdays(hours float64) float64 {
	return hours / HoursPerWorkday
}

// Round1 rounds to one decimal place, the precision workday figures are
// carried at.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Ptr returns a pointer to v. Convenience for building Field values.
func Ptr(v float64) *float64 {
	return &v
}
