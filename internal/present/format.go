// Package present carries derived values and styling hints out of the
// engine: formatted display strings, override markers, and remote fetch
// state changes.
package present

import (
	"fmt"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/kousu-tools/workload-form/internal/model"
)

// Display classes attached to the profit rate figure.
const (
	ClassPositive = "text-success"
	ClassNegative = "text-danger"
)

// Display is one derived value with its rendered text and optional
// styling class.
type Display struct {
	Value float64 `json:"value"`
	Text  string  `json:"text"`
	Class string  `json:"class,omitempty"`
}

// yenPrinter groups amounts with Japanese locale separators.
var yenPrinter = message.NewPrinter(language.Japanese)

// Yen renders a currency amount with a yen sign and thousand grouping.
func Yen(v float64) string {
	return yenPrinter.Sprintf("¥%v", number.Decimal(int64(math.Round(v))))
}

// WorkdaysText renders a person-day count with one decimal.
func WorkdaysText(v float64) string {
	return fmt.Sprintf("%.1f人日", v)
}

// PercentText renders a rate with one decimal.
func PercentText(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

// RateClass returns the styling class for a profit rate: the sign decides,
// the numeric value stays unclamped.
func RateClass(v float64) string {
	if v < 0 {
		return ClassNegative
	}
	return ClassPositive
}

// DisplayFor formats a derived field value according to its kind.
func DisplayFor(field string, v float64) Display {
	switch field {
	case model.FieldAvailableAmount, model.FieldRemainingAmount, model.FieldWIPAmount:
		return Display{Value: v, Text: Yen(v)}
	case model.FieldEstimatedWorkdays, model.FieldTotalUsedWorkdays, model.FieldRemainingWorkdays:
		return Display{Value: v, Text: WorkdaysText(v)}
	case model.FieldProfitRate:
		return Display{Value: v, Text: PercentText(v), Class: RateClass(v)}
	default:
		return Display{Value: v, Text: fmt.Sprintf("%g", v)}
	}
}
