package tracking

import (
	"time"

	"mileage/internal/geo"
	"mileage/internal/model"
)

// Accumulator owns the single in-progress session. It is not safe for concurrent
// use; the Tracker serializes every call through its owner goroutine.
type Accumulator struct {
	filter  FilterConfig
	session *session
}

type session struct {
	startedAt time.Time
	distance  float64
	last      *model.TimedFix
	route     []model.RoutePoint
}

// Progress is a read-only view of the open session.
type Progress struct {
	StartedAt     time.Time       `json:"startedAt"`
	DistanceMiles float64         `json:"distanceMiles"`
	Points        int             `json:"points"`
	LastFix       *model.TimedFix `json:"lastFix,omitempty"`
}

func NewAccumulator(filter FilterConfig) *Accumulator {
	return &Accumulator{filter: filter}
}

func (a *Accumulator) Active() bool { return a.session != nil }

func (a *Accumulator) Begin(at time.Time) error {
	if a.session != nil {
		return ErrSessionActive
	}
	a.session = &session{startedAt: at, route: []model.RoutePoint{}}
	return nil
}

// Ingest is the only path that mutates distance and route.
func (a *Accumulator) Ingest(fix model.TimedFix) Verdict {
	s := a.session
	if s == nil {
		return DroppedIdle
	}
	v := a.filter.Evaluate(s.last, fix)
	if !v.Accepted() {
		return v
	}
	if s.last != nil {
		s.distance += geo.Distance(s.last.Point, fix.Point)
	}
	f := fix
	s.last = &f
	s.route = append(s.route, model.RoutePointFromFix(fix))
	return Accepted
}

// End snapshots and clears the session. Without a session it returns the empty
// summary (start = end = at, no distance, no route).
func (a *Accumulator) End(at time.Time) model.Summary {
	s := a.session
	a.session = nil
	if s == nil {
		return model.Summary{StartedAt: at, EndedAt: at, Route: []model.RoutePoint{}}
	}
	return model.Summary{StartedAt: s.startedAt, EndedAt: at, DistanceMiles: s.distance, Route: s.route}
}

func (a *Accumulator) Snapshot() (Progress, bool) {
	s := a.session
	if s == nil {
		return Progress{}, false
	}
	p := Progress{StartedAt: s.startedAt, DistanceMiles: s.distance, Points: len(s.route)}
	if s.last != nil {
		f := *s.last
		p.LastFix = &f
	}
	return p, true
}
