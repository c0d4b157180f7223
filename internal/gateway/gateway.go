// Package gateway performs the form's remote lookups (tickets by
// project, outsourcing cost by ticket and month, workday breakdowns) and
// normalizes success and failure into uniform results. It also provides
// the per-key-class sequence tracking that suppresses stale responses.
package gateway

import "context"

// KeyClass identifies a remote lookup kind for stale-response
// suppression: only the most recently issued request per class is
// applied.
type KeyClass string

const (
	// KeyClassTickets is the tickets-by-project lookup.
	KeyClassTickets KeyClass = "tickets"
	// KeyClassOutsourcingCost is the outsourcing-cost lookup.
	KeyClassOutsourcingCost KeyClass = "outsourcingCost"
	// KeyClassWorkdays covers both workday lookups; they write the same
	// fields, so they supersede each other.
	KeyClassWorkdays KeyClass = "workdays"
)

// FetchState is the lifecycle of a remote lookup as surfaced to the
// presentation adapter.
type FetchState int

const (
	// FetchPending means a request is in flight.
	FetchPending FetchState = iota
	// FetchSuccess means the latest request resolved and was applied.
	FetchSuccess
	// FetchFailure means the latest request failed; the target fields
	// hold fallback defaults.
	FetchFailure
)

func (s FetchState) String() string {
	switch s {
	case FetchPending:
		return "pending"
	case FetchFailure:
		return "failure"
	default:
		return "success"
	}
}

// Ticket is one selectable case returned by the tickets lookup.
type Ticket struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	Classification string `json:"case_classification"`
}

// CostDetail is one outsourcing cost row backing the total.
type CostDetail struct {
	Supplier  string  `json:"supplier"`
	YearMonth string  `json:"year_month"`
	Cost      float64 `json:"cost"`
}

// OutsourcingCost is the outsourcing-cost lookup payload.
type OutsourcingCost struct {
	TotalCost float64      `json:"total_cost"`
	Details   []CostDetail `json:"cost_details"`
	Count     int          `json:"count"`
}

// Workdays is the workday breakdown payload, in person-days.
type Workdays struct {
	Used   float64 `json:"used_workdays"`
	Newbie float64 `json:"newbie_workdays"`
	Total  float64 `json:"total_workdays"`
}

// Client defines the three remote lookups. An empty ticket list is a
// success, not a failure; errors are never fatal to the form.
type Client interface {
	// FetchTickets returns the ordered ticket list for a project.
	FetchTickets(ctx context.Context, projectID string) ([]Ticket, error)
	// FetchOutsourcingCost returns the outsourcing cost registered for a
	// ticket in the given year-month (format 2006-01).
	FetchOutsourcingCost(ctx context.Context, ticketID, yearMonth string) (*OutsourcingCost, error)
	// FetchWorkdays returns the workday breakdown for a ticket under a
	// classification.
	FetchWorkdays(ctx context.Context, ticketID, classification string) (*Workdays, error)
	// FetchWorkdaysByDateRange returns the workday breakdown for a case
	// limited to an order/end date window (dates in 2006-01-02, either
	// may be empty).
	FetchWorkdaysByDateRange(ctx context.Context, caseID, orderDate, endDate string) (*Workdays, error)
}
