package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kousu-tools/workload-form/internal/model"
	"github.com/kousu-tools/workload-form/internal/registry"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewDefault()
	require.NoError(t, err)
	return e
}

func TestNewRejectsCompetingWriters(t *testing.T) {
	t.Parallel()
	rules := BuildRules(DefaultNames())
	rules = append(rules, Rule{
		Name:    "rogue",
		Output:  model.FieldProfitRate,
		Compute: func(State) (float64, bool) { return 0, true },
	})
	_, err := New(rules)
	assert.Error(t, err)
}

func TestDailyRate(t *testing.T) {
	t.Parallel()
	// 80万円/month over 20 workdays is 40,000円/day.
	assert.InDelta(t, 40000, DailyRate(80), 1e-9)
	assert.InDelta(t, 25000, DailyRate(50), 1e-9)
	assert.Equal(t, 0.0, DailyRate(0))
}

func TestAvailableAmountFromBillingAndOutsourcing(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	r := registry.NewDefault()
	r.Set(model.FieldBillingAmount, 1000000)
	r.Set(model.FieldOutsourcingCost, 200000)

	e.Pass(r, "")

	assert.Equal(t, 800000.0, r.Num(model.FieldAvailableAmount))
}

func TestAvailableAmountClampedAtZero(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	r := registry.NewDefault()
	r.Set(model.FieldBillingAmount, 100000)
	r.Set(model.FieldOutsourcingCost, 300000)

	e.Pass(r, "")

	assert.Equal(t, 0.0, r.Num(model.FieldAvailableAmount))
}

func TestAvailableAmountSkippedWhenAllInputsZero(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	r := registry.NewDefault()
	r.Set(model.FieldAvailableAmount, 500000) // stale prior value

	e.Pass(r, "")

	// Guard requires billing > 0 or outsourcing > 0; prior value stays.
	assert.Equal(t, 500000.0, r.Num(model.FieldAvailableAmount))
}

func TestEstimatedWorkdaysFromAvailableAmount(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	r := registry.NewDefault()
	r.Set(model.FieldBillingAmount, 800000)
	r.Set(model.FieldBillingUnitCost, 80)

	e.Pass(r, "")

	// availableAmount=800,000; dailyRate=40,000 -> 20.0 person-days.
	assert.Equal(t, 800000.0, r.Num(model.FieldAvailableAmount))
	assert.Equal(t, 20.0, r.Num(model.FieldEstimatedWorkdays))
}

func TestEstimatedWorkdaysRoundedToOneDecimal(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	r := registry.NewDefault()
	r.Set(model.FieldBillingAmount, 1000000)
	r.Set(model.FieldBillingUnitCost, 60) // dailyRate 30,000 -> 33.333...

	e.Pass(r, "")

	assert.Equal(t, 33.3, r.Num(model.FieldEstimatedWorkdays))
}

func TestEstimatedWorkdaysSkippedWithoutUnitCost(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	r := registry.NewDefault()
	r.Set(model.FieldBillingAmount, 800000)
	r.Set(model.FieldEstimatedWorkdays, 12.0) // prior derived value

	e.Pass(r, "")

	// Division guard: no unit cost, no write, prior value stays.
	assert.Equal(t, 12.0, r.Num(model.FieldEstimatedWorkdays))
}

func TestOverriddenEstimateFeedsRemainingWorkdays(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	r := registry.NewDefault()
	r.Set(model.FieldBillingAmount, 800000)
	r.Set(model.FieldBillingUnitCost, 80)
	r.Set(model.FieldUsedWorkdays, 5)
	r.Set(model.FieldNewbieWorkdays, 2)

	e.Pass(r, "")
	assert.Equal(t, 20.0, r.Num(model.FieldEstimatedWorkdays))

	// User overrides the estimate down to 15.0.
	r.MarkUserModified(model.FieldEstimatedWorkdays)
	r.SetUser(model.FieldEstimatedWorkdays, 15.0)

	e.Pass(r, "")

	assert.Equal(t, 15.0, r.Num(model.FieldEstimatedWorkdays), "override survives the pass")
	assert.Equal(t, 7.0, r.Num(model.FieldTotalUsedWorkdays))
	assert.Equal(t, 8.0, r.Num(model.FieldRemainingWorkdays), "uses the overridden 15.0, not the derived 20.0")
}

func TestOverrideDurabilityAcrossManyPasses(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	r := registry.NewDefault()
	r.Set(model.FieldBillingAmount, 800000)
	r.Set(model.FieldBillingUnitCost, 80)
	r.MarkUserModified(model.FieldEstimatedWorkdays)
	r.SetUser(model.FieldEstimatedWorkdays, 3.5)

	for i := 0; i < 10; i++ {
		e.Pass(r, "")
	}
	assert.Equal(t, 3.5, r.Num(model.FieldEstimatedWorkdays))

	// Reset hands the field back to the engine.
	r.Reset(model.FieldEstimatedWorkdays)
	e.Pass(r, "")
	assert.Equal(t, 20.0, r.Num(model.FieldEstimatedWorkdays))
}

func TestZeroUnitCostZeroesRemainingAmountAndProfitRate(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	r := registry.NewDefault()
	r.Set(model.FieldBillingAmount, 1000000)
	r.Set(model.FieldOutsourcingCost, 100000)
	r.Set(model.FieldUsedWorkdays, 4)
	r.SetUser(model.FieldEstimatedWorkdays, 30)

	e.Pass(r, model.ClassificationDevelopment)

	assert.Equal(t, 0.0, r.Num(model.FieldRemainingAmount))
	assert.Equal(t, 0.0, r.Num(model.FieldProfitRate))
	assert.Equal(t, 0.0, r.Num(model.FieldWIPAmount))
}

func TestProfitRateFromRemainingAmount(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	r := registry.NewDefault()
	r.Set(model.FieldBillingAmount, 1000000)
	r.Set(model.FieldBillingUnitCost, 80)
	r.Set(model.FieldOutsourcingCost, 200000)
	r.Set(model.FieldUsedWorkdays, 5)
	r.Set(model.FieldNewbieWorkdays, 2)

	res := e.Pass(r, "")
	require.LessOrEqual(t, res.Iterations, 2)

	// available=800,000 -> estimate 20.0; remaining 13.0 days * 40,000 =
	// 520,000; 52% of billing.
	assert.Equal(t, 13.0, r.Num(model.FieldRemainingWorkdays))
	assert.Equal(t, 520000.0, r.Num(model.FieldRemainingAmount))
	assert.InDelta(t, 52.0, r.Num(model.FieldProfitRate), 1e-9)
}

func TestWIPAmountOnlyForDevelopment(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	setup := func() *registry.Registry {
		r := registry.NewDefault()
		r.Set(model.FieldBillingAmount, 1000000)
		r.Set(model.FieldBillingUnitCost, 80)
		r.Set(model.FieldOutsourcingCost, 100000)
		r.Set(model.FieldUsedWorkdays, 5)
		r.Set(model.FieldNewbieWorkdays, 2)
		return r
	}

	r := setup()
	e.Pass(r, model.ClassificationDevelopment)
	// 7.0 days * 40,000 + 100,000 outsourcing.
	assert.Equal(t, 380000.0, r.Num(model.FieldWIPAmount))

	r = setup()
	e.Pass(r, model.ClassificationMaintenance)
	assert.Equal(t, 0.0, r.Num(model.FieldWIPAmount))
}

func TestPassIsIdempotent(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	r := registry.NewDefault()
	r.Set(model.FieldBillingAmount, 1234567)
	r.Set(model.FieldOutsourcingCost, 98765)
	r.Set(model.FieldBillingUnitCost, 73)
	r.Set(model.FieldUsedWorkdays, 3.5)
	r.Set(model.FieldNewbieWorkdays, 1.5)

	first := e.Pass(r, model.ClassificationDevelopment)
	assert.NotEmpty(t, first.Changed)
	snap := r.Snapshot()

	second := e.Pass(r, model.ClassificationDevelopment)
	assert.Empty(t, second.Changed, "second pass on unchanged inputs is a no-op")
	assert.Equal(t, 1, second.Iterations)
	assert.Equal(t, snap, r.Snapshot())
}

func TestPassReachesFixedPointWithinTwoIterations(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	r := registry.NewDefault()
	r.Set(model.FieldBillingAmount, 900000)
	r.Set(model.FieldBillingUnitCost, 60)

	res := e.Pass(r, "")
	assert.LessOrEqual(t, res.Iterations, 2)
}

func TestMissingInputsTreatedAsZero(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	r := registry.NewDefault()

	// Nothing set at all: display aggregates become zero, gated rules
	// skip, and no error surfaces.
	res := e.Pass(r, "")

	assert.Equal(t, 0.0, r.Num(model.FieldTotalUsedWorkdays))
	assert.Equal(t, 0.0, r.Num(model.FieldRemainingWorkdays))
	assert.Equal(t, 0.0, r.Num(model.FieldRemainingAmount))
	assert.Equal(t, 0.0, r.Num(model.FieldProfitRate))
	f, _ := r.Get(model.FieldAvailableAmount)
	assert.Nil(t, f.Value, "gated rule never wrote")
	assert.LessOrEqual(t, res.Iterations, 2)
}

func TestOutputsInRuleOrder(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	assert.Equal(t, []string{
		model.FieldAvailableAmount,
		model.FieldEstimatedWorkdays,
		model.FieldTotalUsedWorkdays,
		model.FieldRemainingWorkdays,
		model.FieldRemainingAmount,
		model.FieldProfitRate,
		model.FieldWIPAmount,
	}, e.Outputs())
}
