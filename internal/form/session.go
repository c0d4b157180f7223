// Package form binds the field registry, derivation engine, recompute
// scheduler, remote gateway, and presentation adapter into one reactive
// form session. All state changes flow through a single event goroutine,
// so events run to completion before the next one is processed; the only
// suspension points are the remote lookups, which run concurrently and
// post their completions back as events.
package form

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kousu-tools/workload-form/internal/engine"
	"github.com/kousu-tools/workload-form/internal/gateway"
	"github.com/kousu-tools/workload-form/internal/model"
	"github.com/kousu-tools/workload-form/internal/present"
	"github.com/kousu-tools/workload-form/internal/registry"
	"github.com/kousu-tools/workload-form/internal/scheduler"
)

// Option configures a session.
type Option func(*Session)

// WithDebounce sets the coalescing window applied after each event
// before a recompute pass runs. Zero runs the pass as soon as the
// immediately pending events are drained.
func WithDebounce(d time.Duration) Option {
	return func(s *Session) {
		s.debounce = d
	}
}

// WithClock overrides the time source used for the default year-month.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// Session is one live workload form.
type Session struct {
	reg     *registry.Registry
	eng     *engine.Engine
	sched   *scheduler.Scheduler
	gw      gateway.Client
	tracker *gateway.Tracker
	adapter present.Adapter

	debounce time.Duration
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	run    chan func()
	done   chan struct{}

	// Selection state driving the gateway triggers. Only touched on the
	// event goroutine.
	projectID      string
	ticketID       string
	classification string
	yearMonth      string
	orderDate      string
	endDate        string
	autoCalculate  bool
	tickets        []gateway.Ticket

	fetches      map[gateway.KeyClass]present.FetchStatus
	lastDisplays map[string]present.Display
}

// NewSession creates and starts a session. Close must be called to stop
// the event goroutine and cancel in-flight lookups.
func NewSession(ctx context.Context, gw gateway.Client, adapter present.Adapter, opts ...Option) (*Session, error) {
	eng, err := engine.NewDefault()
	if err != nil {
		return nil, err
	}
	if adapter == nil {
		adapter = present.NopAdapter{}
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		reg:           registry.NewDefault(),
		eng:           eng,
		sched:         scheduler.New(),
		gw:            gw,
		tracker:       gateway.NewTracker(),
		adapter:       adapter,
		now:           time.Now,
		ctx:           sctx,
		cancel:        cancel,
		run:           make(chan func(), 64),
		done:          make(chan struct{}),
		autoCalculate: true,
		fetches:       make(map[gateway.KeyClass]present.FetchStatus),
		lastDisplays:  make(map[string]present.Display),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.reg.SetOnChange(func(string) { s.sched.Trigger() })

	go s.loop()
	return s, nil
}

// Close stops the session. In-flight lookup responses are discarded.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.run:
			fn()
			s.settle()
		}
	}
}

// settle drains the burst of immediately pending events (plus anything
// arriving within the debounce window), then runs the coalesced
// recompute pass and publishes changed displays.
func (s *Session) settle() {
	s.drainPending()
	if s.debounce > 0 && s.sched.Pending() {
		timer := time.NewTimer(s.debounce)
		defer timer.Stop()
		waiting := true
		for waiting {
			select {
			case <-s.ctx.Done():
				return
			case fn := <-s.run:
				fn()
			case <-timer.C:
				waiting = false
			}
		}
		s.drainPending()
	}

	s.sched.Flush(func() {
		s.eng.Pass(s.reg, s.classification)
	})
	s.publish()
}

func (s *Session) drainPending() {
	for {
		select {
		case fn := <-s.run:
			fn()
		default:
			return
		}
	}
}

// post schedules fn on the event goroutine. Returns false after Close.
func (s *Session) post(fn func()) bool {
	select {
	case s.run <- fn:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// SetField applies a user edit to a numeric field. Non-numeric content
// is treated as zero, never as an error. The field's source flips to
// UserEntered and, for override-protected fields, the adapter is told.
func (s *Session) SetField(name, raw string) {
	s.post(func() {
		v := parseNumber(raw)
		s.reg.SetUser(name, v)
		if s.reg.IsProtected(name) {
			s.adapter.OnOverrideStateChanged(name, true)
		}
	})
}

// FocusField marks a field as user-owned before any edit lands,
// mirroring the form's focus handler on override-protected fields.
func (s *Session) FocusField(name string) {
	s.post(func() {
		if !s.reg.IsProtected(name) || s.reg.UserModified(name) {
			return
		}
		s.reg.MarkUserModified(name)
		s.adapter.OnOverrideStateChanged(name, true)
	})
}

// ResetField hands an overridden field back to the engine and triggers a
// recompute pass.
func (s *Session) ResetField(name string) {
	s.post(func() {
		s.reg.Reset(name)
		s.adapter.OnOverrideStateChanged(name, false)
	})
}

// SelectProject records the chosen project and fetches its ticket list.
// Clearing the project clears the ticket list.
func (s *Session) SelectProject(projectID string) {
	s.post(func() {
		s.projectID = projectID
		s.tickets = nil
		if projectID == "" {
			return
		}
		s.fetchTickets(projectID)
	})
}

// SelectTicket records the chosen ticket and kicks off the dependent
// lookups: outsourcing cost always; workdays by classification when
// auto-calculation is on (copying the ticket's classification into the
// form first) or by date range otherwise. Clearing the ticket resets the
// outsourcing cost.
func (s *Session) SelectTicket(ticketID string) {
	s.post(func() {
		s.ticketID = ticketID
		if ticketID == "" {
			s.reg.Set(model.FieldOutsourcingCost, 0)
			return
		}

		s.fetchOutsourcingCost(ticketID)

		if s.autoCalculate {
			if t, ok := s.ticketByID(ticketID); ok && t.Classification != "" {
				s.classification = t.Classification
				s.sched.Trigger()
			} else if !ok {
				// Ticket list not loaded yet; the tickets response
				// handler re-applies the classification when it lands.
				zap.L().Debug("selected ticket not in loaded list",
					zap.String("ticket_id", ticketID))
			}
			s.fetchWorkdays(ticketID, s.classification)
		} else {
			s.fetchWorkdaysByDateRange(ticketID, s.orderDate, s.endDate)
		}
	})
}

// SetClassification records the case classification and recomputes; the
// work-in-progress rule depends on it.
func (s *Session) SetClassification(classification string) {
	s.post(func() {
		if s.classification == classification {
			return
		}
		s.classification = classification
		s.sched.Trigger()
	})
}

// SetYearMonth records the billing month and re-fetches the outsourcing
// cost for the selected ticket, if any.
func (s *Session) SetYearMonth(yearMonth string) {
	s.post(func() {
		s.yearMonth = yearMonth
		if s.ticketID != "" {
			s.fetchOutsourcingCost(s.ticketID)
		}
	})
}

// SetDateRange records the order/actual-end dates used by the date-range
// workdays lookup.
func (s *Session) SetDateRange(orderDate, endDate string) {
	s.post(func() {
		s.orderDate = orderDate
		s.endDate = endDate
	})
}

// SetAutoCalculate toggles between classification-based and date-range
// workdays lookups.
func (s *Session) SetAutoCalculate(on bool) {
	s.post(func() { s.autoCalculate = on })
}

// Recalculate re-issues the workdays lookup for the selected ticket,
// mirroring the form's manual recalculation button.
func (s *Session) Recalculate() {
	s.post(func() {
		if s.ticketID == "" {
			return
		}
		if s.autoCalculate {
			s.fetchWorkdays(s.ticketID, s.classification)
		} else {
			s.fetchWorkdaysByDateRange(s.ticketID, s.orderDate, s.endDate)
		}
	})
}

func (s *Session) ticketByID(id string) (gateway.Ticket, bool) {
	for _, t := range s.tickets {
		if strconv.FormatInt(t.ID, 10) == id {
			return t, true
		}
	}
	return gateway.Ticket{}, false
}

// applyTicketClassification copies the selected ticket's classification
// into the form, covering a ticket selected before its list loaded.
// Only meaningful with auto-calculation on; manual mode leaves the
// classification to the user.
func (s *Session) applyTicketClassification() {
	if !s.autoCalculate || s.ticketID == "" {
		return
	}
	t, ok := s.ticketByID(s.ticketID)
	if !ok || t.Classification == "" || t.Classification == s.classification {
		return
	}
	s.classification = t.Classification
	s.sched.Trigger()
}

func (s *Session) effectiveYearMonth() string {
	if s.yearMonth != "" {
		return s.yearMonth
	}
	return s.now().Format("2006-01")
}

func (s *Session) setFetchState(kc gateway.KeyClass, state gateway.FetchState, reason string) {
	s.fetches[kc] = present.FetchStatus{State: state, Reason: reason}
	s.adapter.OnRemoteFetchStateChanged(kc, state, reason)
}

func (s *Session) fetchTickets(projectID string) {
	seq := s.tracker.Issue(gateway.KeyClassTickets)
	s.setFetchState(gateway.KeyClassTickets, gateway.FetchPending, "")

	go func() {
		tickets, err := s.gw.FetchTickets(s.ctx, projectID)
		s.post(func() {
			if s.tracker.IsStale(gateway.KeyClassTickets, seq) {
				zap.L().Debug("dropping stale tickets response", zap.String("project_id", projectID))
				return
			}
			if err != nil {
				s.setFetchState(gateway.KeyClassTickets, gateway.FetchFailure, err.Error())
				return
			}
			s.tickets = tickets
			s.setFetchState(gateway.KeyClassTickets, gateway.FetchSuccess, "")
			s.applyTicketClassification()
		})
	}()
}

func (s *Session) fetchOutsourcingCost(ticketID string) {
	seq := s.tracker.Issue(gateway.KeyClassOutsourcingCost)
	ym := s.effectiveYearMonth()
	s.reg.MarkPending(model.FieldOutsourcingCost)
	s.setFetchState(gateway.KeyClassOutsourcingCost, gateway.FetchPending, "")

	go func() {
		cost, err := s.gw.FetchOutsourcingCost(s.ctx, ticketID, ym)
		s.post(func() {
			if s.tracker.IsStale(gateway.KeyClassOutsourcingCost, seq) {
				zap.L().Debug("dropping stale outsourcing cost response",
					zap.String("ticket_id", ticketID),
					zap.String("year_month", ym),
				)
				return
			}
			if err != nil {
				// Failure is non-fatal: fall back to zero, tagged
				// Derived, and warn through the adapter.
				s.reg.Set(model.FieldOutsourcingCost, 0)
				s.reg.MarkInvalid(model.FieldOutsourcingCost)
				s.setFetchState(gateway.KeyClassOutsourcingCost, gateway.FetchFailure, err.Error())
				return
			}
			s.reg.Set(model.FieldOutsourcingCost, math.Round(cost.TotalCost))
			s.setFetchState(gateway.KeyClassOutsourcingCost, gateway.FetchSuccess, "")
		})
	}()
}

func (s *Session) fetchWorkdays(ticketID, classification string) {
	seq := s.tracker.Issue(gateway.KeyClassWorkdays)
	s.markWorkdaysPending()

	go func() {
		wd, err := s.gw.FetchWorkdays(s.ctx, ticketID, classification)
		s.post(func() { s.applyWorkdays(seq, ticketID, wd, err) })
	}()
}

func (s *Session) fetchWorkdaysByDateRange(caseID, orderDate, endDate string) {
	seq := s.tracker.Issue(gateway.KeyClassWorkdays)
	s.markWorkdaysPending()

	go func() {
		wd, err := s.gw.FetchWorkdaysByDateRange(s.ctx, caseID, orderDate, endDate)
		s.post(func() { s.applyWorkdays(seq, caseID, wd, err) })
	}()
}

func (s *Session) markWorkdaysPending() {
	s.reg.MarkPending(model.FieldUsedWorkdays)
	s.reg.MarkPending(model.FieldNewbieWorkdays)
	s.setFetchState(gateway.KeyClassWorkdays, gateway.FetchPending, "")
}

func (s *Session) applyWorkdays(seq uint64, ticketID string, wd *gateway.Workdays, err error) {
	if s.tracker.IsStale(gateway.KeyClassWorkdays, seq) {
		zap.L().Debug("dropping stale workdays response", zap.String("ticket_id", ticketID))
		return
	}
	if err != nil {
		s.reg.Set(model.FieldUsedWorkdays, 0)
		s.reg.Set(model.FieldNewbieWorkdays, 0)
		s.reg.MarkInvalid(model.FieldUsedWorkdays)
		s.reg.MarkInvalid(model.FieldNewbieWorkdays)
		s.setFetchState(gateway.KeyClassWorkdays, gateway.FetchFailure, err.Error())
		return
	}
	s.reg.Set(model.FieldUsedWorkdays, model.Round1(wd.Used))
	s.reg.Set(model.FieldNewbieWorkdays, model.Round1(wd.Newbie))
	s.setFetchState(gateway.KeyClassWorkdays, gateway.FetchSuccess, "")
}

// publish pushes display strings for derived fields whose value changed
// since the last publication.
func (s *Session) publish() {
	changed := make(map[string]present.Display)
	for _, name := range s.eng.Outputs() {
		f, ok := s.reg.Get(name)
		if !ok || f.Value == nil {
			continue
		}
		d := present.DisplayFor(name, f.Num())
		if prev, ok := s.lastDisplays[name]; ok && prev == d {
			continue
		}
		s.lastDisplays[name] = d
		changed[name] = d
	}
	if len(changed) > 0 {
		s.adapter.OnDerivedFieldsChanged(changed)
	}
}

func parseNumber(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
