package form

import (
	"github.com/kousu-tools/workload-form/internal/gateway"
	"github.com/kousu-tools/workload-form/internal/model"
	"github.com/kousu-tools/workload-form/internal/present"
)

// FieldView is one field's externally visible state.
type FieldView struct {
	Name         string           `json:"name"`
	Value        *float64         `json:"value"`
	Source       string           `json:"source"`
	Validity     string           `json:"validity"`
	UserModified bool             `json:"user_modified"`
	Display      *present.Display `json:"display,omitempty"`
}

// Selection is the non-numeric form state driving the gateway triggers.
type Selection struct {
	ProjectID      string `json:"project_id"`
	TicketID       string `json:"ticket_id"`
	Classification string `json:"classification"`
	YearMonth      string `json:"year_month"`
	OrderDate      string `json:"order_date"`
	EndDate        string `json:"end_date"`
	AutoCalculate  bool   `json:"auto_calculate"`
}

// FetchView is the last reported state of one lookup class.
type FetchView struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// Snapshot is a consistent view of the session taken on its event
// goroutine.
type Snapshot struct {
	Fields    []FieldView          `json:"fields"`
	Selection Selection            `json:"selection"`
	Tickets   []gateway.Ticket     `json:"tickets"`
	Fetches   map[string]FetchView `json:"fetches"`
	Passes    int                  `json:"passes"`
}

// Field returns the named field view, if present.
func (s Snapshot) Field(name string) (FieldView, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldView{}, false
}

// Num returns the named field's value, zero if absent.
func (s Snapshot) Num(name string) float64 {
	f, ok := s.Field(name)
	if !ok || f.Value == nil {
		return 0
	}
	return *f.Value
}

// Snapshot captures the session state. It blocks until the event
// goroutine takes the picture, so it observes every event posted before
// it. Any recompute those events scheduled runs first, even when the
// snapshot request lands in the same drained batch, so the picture never
// shows un-derived state. Returns a zero snapshot after Close.
func (s *Session) Snapshot() Snapshot {
	ch := make(chan Snapshot, 1)
	ok := s.post(func() {
		s.sched.Flush(func() {
			s.eng.Pass(s.reg, s.classification)
		})
		s.publish()
		ch <- s.buildSnapshot()
	})
	if !ok {
		return Snapshot{}
	}
	select {
	case snap := <-ch:
		return snap
	case <-s.done:
		return Snapshot{}
	}
}

func (s *Session) buildSnapshot() Snapshot {
	outputs := make(map[string]bool)
	for _, name := range s.eng.Outputs() {
		outputs[name] = true
	}

	snap := Snapshot{
		Selection: Selection{
			ProjectID:      s.projectID,
			TicketID:       s.ticketID,
			Classification: s.classification,
			YearMonth:      s.yearMonth,
			OrderDate:      s.orderDate,
			EndDate:        s.endDate,
			AutoCalculate:  s.autoCalculate,
		},
		Tickets: append([]gateway.Ticket(nil), s.tickets...),
		Fetches: make(map[string]FetchView, len(s.fetches)),
		Passes:  s.sched.Passes(),
	}

	for _, f := range s.reg.Snapshot() {
		fv := FieldView{
			Name:         f.Name,
			Value:        f.Value,
			Source:       f.Source.String(),
			Validity:     f.Validity.String(),
			UserModified: f.Source == model.SourceUserEntered,
		}
		if outputs[f.Name] && f.Value != nil {
			d := present.DisplayFor(f.Name, f.Num())
			fv.Display = &d
		}
		snap.Fields = append(snap.Fields, fv)
	}

	for kc, st := range s.fetches {
		snap.Fetches[string(kc)] = FetchView{State: st.State.String(), Reason: st.Reason}
	}
	return snap
}
