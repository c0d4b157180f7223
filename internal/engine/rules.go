package engine

import (
	"math"

	"github.com/kousu-tools/workload-form/internal/model"
)

// Names binds the rule set to concrete field names, so the one engine
// serves every variant of the form instead of drifting copies.
type Names struct {
	BillingAmount     string
	OutsourcingCost   string
	BillingUnitCost   string
	UsedWorkdays      string
	NewbieWorkdays    string
	AvailableAmount   string
	EstimatedWorkdays string
	TotalUsedWorkdays string
	RemainingWorkdays string
	RemainingAmount   string
	ProfitRate        string
	WIPAmount         string
}

// DefaultNames returns the canonical field names.
func DefaultNames() Names {
	return Names{
		BillingAmount:     model.FieldBillingAmount,
		OutsourcingCost:   model.FieldOutsourcingCost,
		BillingUnitCost:   model.FieldBillingUnitCost,
		UsedWorkdays:      model.FieldUsedWorkdays,
		NewbieWorkdays:    model.FieldNewbieWorkdays,
		AvailableAmount:   model.FieldAvailableAmount,
		EstimatedWorkdays: model.FieldEstimatedWorkdays,
		TotalUsedWorkdays: model.FieldTotalUsedWorkdays,
		RemainingWorkdays: model.FieldRemainingWorkdays,
		RemainingAmount:   model.FieldRemainingAmount,
		ProfitRate:        model.FieldProfitRate,
		WIPAmount:         model.FieldWIPAmount,
	}
}

// BuildRules builds the ordered derivation rule list over n. Later rules
// read values earlier rules may have just written, so order matters.
// Only the first two rules honor user overrides; the rest are display
// aggregates and always recompute.
func BuildRules(n Names) []Rule {
	return []Rule{
		{
			Name:   "availableAmount",
			Output: n.AvailableAmount,
			Guard: func(s State) bool {
				if s.Reg.UserModified(n.AvailableAmount) {
					return false
				}
				return s.Reg.Num(n.BillingAmount) > 0 || s.Reg.Num(n.OutsourcingCost) > 0
			},
			Compute: func(s State) (float64, bool) {
				v := math.Max(s.Reg.Num(n.BillingAmount)-s.Reg.Num(n.OutsourcingCost), 0)
				return roundYen(v), true
			},
		},
		{
			Name:   "estimatedWorkdays",
			Output: n.EstimatedWorkdays,
			Guard: func(s State) bool {
				if s.Reg.UserModified(n.EstimatedWorkdays) {
					return false
				}
				return s.Reg.Num(n.BillingUnitCost) > 0 && s.Reg.Num(n.AvailableAmount) > 0
			},
			Compute: func(s State) (float64, bool) {
				w := s.Reg.Num(n.AvailableAmount) / DailyRate(s.Reg.Num(n.BillingUnitCost))
				if math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
					return 0, false
				}
				return model.Round1(w), true
			},
		},
		{
			Name:   "totalUsedWorkdays",
			Output: n.TotalUsedWorkdays,
			Compute: func(s State) (float64, bool) {
				return s.Reg.Num(n.UsedWorkdays) + s.Reg.Num(n.NewbieWorkdays), true
			},
		},
		{
			Name:   "remainingWorkdays",
			Output: n.RemainingWorkdays,
			Compute: func(s State) (float64, bool) {
				v := s.Reg.Num(n.EstimatedWorkdays) - s.Reg.Num(n.TotalUsedWorkdays)
				return math.Max(v, 0), true
			},
		},
		{
			Name:   "remainingAmount",
			Output: n.RemainingAmount,
			Compute: func(s State) (float64, bool) {
				unit := s.Reg.Num(n.BillingUnitCost)
				if unit <= 0 {
					return 0, true
				}
				return s.Reg.Num(n.RemainingWorkdays) * DailyRate(unit), true
			},
		},
		{
			Name:   "profitRate",
			Output: n.ProfitRate,
			Compute: func(s State) (float64, bool) {
				billing := s.Reg.Num(n.BillingAmount)
				if billing <= 0 {
					return 0, true
				}
				// Unclamped: negative rates are meaningful and drive the
				// display class.
				return s.Reg.Num(n.RemainingAmount) / billing * 100, true
			},
		},
		{
			Name:   "wipAmount",
			Output: n.WIPAmount,
			Compute: func(s State) (float64, bool) {
				unit := s.Reg.Num(n.BillingUnitCost)
				if s.Classification != model.ClassificationDevelopment || unit <= 0 {
					return 0, true
				}
				wip := s.Reg.Num(n.TotalUsedWorkdays)*DailyRate(unit) + s.Reg.Num(n.OutsourcingCost)
				return wip, true
			},
		},
	}
}
