package tracking

import (
	"time"

	"github.com/google/uuid"

	"mileage/internal/authz"
	"mileage/internal/model"
)

type State string

const (
	Idle     State = "idle"
	Tracking State = "tracking"
)

// Outcome describes what a stop produced. Record is nil when Discarded.
type Outcome struct {
	Summary   model.Summary     `json:"summary"`
	Record    *model.TripRecord `json:"record,omitempty"`
	Discarded bool              `json:"discarded"`
}

// Machine is the Idle/Tracking state machine. Like Accumulator it expects a
// single owner; see Tracker for the concurrent front end.
type Machine struct {
	auth     authz.Provider
	acc      *Accumulator
	state    State
	category model.Category
	newID    func() string
}

func NewMachine(auth authz.Provider, filter FilterConfig) *Machine {
	return &Machine{auth: auth, acc: NewAccumulator(filter), state: Idle, newID: uuid.NewString}
}

func (m *Machine) State() State { return m.state }

func (m *Machine) Category() model.Category { return m.category }

func (m *Machine) Progress() (Progress, bool) { return m.acc.Snapshot() }

// Start opens a session. Authorization is checked on every call; a downgrade
// after Start does not close the session.
func (m *Machine) Start(cat model.Category, at time.Time) error {
	if m.state == Tracking {
		return ErrAlreadyTracking
	}
	st := m.auth.State()
	if !authz.HasPermission(st) {
		return ErrPermissionDenied
	}
	if err := m.acc.Begin(at); err != nil {
		return err
	}
	if authz.NeedsElevation(st) {
		m.auth.RequestElevatedPermission()
	}
	m.category = cat
	m.state = Tracking
	return nil
}

// Ingest forwards a fix while tracking; idle fixes are dropped.
func (m *Machine) Ingest(fix model.TimedFix) Verdict {
	if m.state != Tracking {
		return DroppedIdle
	}
	return m.acc.Ingest(fix)
}

// Stop always leaves the machine Idle.
func (m *Machine) Stop(at time.Time) (Outcome, error) {
	wasTracking := m.state == Tracking
	m.state = Idle
	sum := m.acc.End(at)
	if !wasTracking {
		return Outcome{Summary: sum, Discarded: true}, ErrNotTracking
	}
	if sum.DistanceMiles <= 0 {
		return Outcome{Summary: sum, Discarded: true}, nil
	}
	rec := model.TripRecord{
		ID:            m.newID(),
		StartTime:     sum.StartedAt,
		EndTime:       sum.EndedAt,
		DistanceMiles: sum.DistanceMiles,
		Category:      m.category,
		IsManualEntry: false,
	}
	if len(sum.Route) > 0 {
		rec.Route = sum.Route
	}
	return Outcome{Summary: sum, Record: &rec}, nil
}
