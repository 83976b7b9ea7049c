// Package tracking turns a stream of GPS fixes into finalized trip records.
//
// The Tracker owns one goroutine (Run) through which every state transition and
// every fix passes, in arrival order. Fixes can be submitted from any goroutine;
// a fix that arrives after Stop is processed after it and is dropped.
package tracking

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"mileage/internal/authz"
	"mileage/internal/events"
	"mileage/internal/metrics"
	"mileage/internal/model"
)

// TripSink receives finalized records.
type TripSink interface {
	InsertTrip(ctx context.Context, trip model.TripRecord) error
}

type Config struct {
	Filter    FilterConfig
	QueueSize int
	Now       func() time.Time
}

type Status struct {
	State              State                    `json:"state"`
	Category           *model.Category          `json:"category,omitempty"`
	Authorization      model.AuthorizationState `json:"authorization"`
	AuthorizationLabel string                   `json:"authorizationLabel"`
	HasPermission      bool                     `json:"hasPermission"`
	NeedsElevation     bool                     `json:"needsElevation"`
	Progress           *Progress                `json:"progress,omitempty"`
}

type cmdKind int

const (
	cmdFix cmdKind = iota
	cmdStart
	cmdStop
	cmdStatus
)

type command struct {
	kind     cmdKind
	fix      model.TimedFix
	category model.Category
	reply    chan result
}

type result struct {
	err      error
	outcome  Outcome
	category model.Category
	status   Status
}

type Tracker struct {
	machine *Machine
	auth    authz.Provider
	sink    TripSink
	pub     events.Publisher
	now     func() time.Time

	cmds    chan command
	outbox  chan events.Event
	done    chan struct{}
	running atomic.Bool
}

func New(cfg Config, auth authz.Provider, sink TripSink, pub events.Publisher) *Tracker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Filter == (FilterConfig{}) {
		cfg.Filter = DefaultFilterConfig()
	}
	if pub == nil {
		pub = events.Discard{}
	}
	return &Tracker{
		machine: NewMachine(auth, cfg.Filter),
		auth:    auth,
		sink:    sink,
		pub:     pub,
		now:     cfg.Now,
		cmds:    make(chan command, cfg.QueueSize),
		outbox:  make(chan events.Event, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

// Run processes commands until ctx is cancelled. It must be called exactly once.
func (t *Tracker) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return fmt.Errorf("tracker already running")
	}
	defer close(t.done)

	authCh := t.auth.Subscribe()
	defer t.auth.Unsubscribe(authCh)
	go t.pump()

	log.Info().Msg("tracker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("tracker stopped")
			return nil
		case st, ok := <-authCh:
			if !ok {
				authCh = nil
				continue
			}
			// a downgrade never closes an open session; it only gates the next Start
			t.emit("authorization.changed", map[string]any{
				"state":         st,
				"label":         authz.Describe(st),
				"hasPermission": authz.HasPermission(st),
				"tracking":      t.machine.State() == Tracking,
			})
		case c := <-t.cmds:
			t.handle(c)
		}
	}
}

func (t *Tracker) handle(c command) {
	switch c.kind {
	case cmdFix:
		v := t.machine.Ingest(c.fix)
		metrics.FixesProcessed.WithLabelValues(string(v)).Inc()
		switch {
		case v.Accepted():
			p, _ := t.machine.Progress()
			t.emit("tracking.fix.accepted", map[string]any{
				"lat":           c.fix.Point.Lat,
				"lng":           c.fix.Point.Lng,
				"ts":            c.fix.Timestamp,
				"distanceMiles": p.DistanceMiles,
				"points":        p.Points,
			})
		case v == DroppedIdle:
			log.Debug().Time("ts", c.fix.Timestamp).Msg("fix dropped while idle")
		default:
			t.emit("tracking.fix.rejected", map[string]any{"reason": string(v), "accuracyM": c.fix.AccuracyM, "speedMps": c.fix.SpeedMps})
		}
	case cmdStart:
		err := t.machine.Start(c.category, t.now())
		if err == nil {
			metrics.TrackingActive.Set(1)
			p, _ := t.machine.Progress()
			log.Info().Str("category", c.category.String()).Time("startedAt", p.StartedAt).Msg("tracking started")
			t.emit("tracking.started", map[string]any{"category": c.category.String(), "startedAt": p.StartedAt})
		} else {
			log.Warn().Err(err).Str("category", c.category.String()).Msg("start refused")
		}
		c.reply <- result{err: err}
	case cmdStop:
		cat := t.machine.Category()
		out, err := t.machine.Stop(t.now())
		metrics.TrackingActive.Set(0)
		if err == nil {
			t.emit("tracking.stopped", map[string]any{
				"startedAt":     out.Summary.StartedAt,
				"endedAt":       out.Summary.EndedAt,
				"distanceMiles": out.Summary.DistanceMiles,
				"points":        len(out.Summary.Route),
				"discarded":     out.Discarded,
			})
		}
		c.reply <- result{outcome: out, category: cat, err: err}
	case cmdStatus:
		c.reply <- result{status: t.status()}
	}
}

func (t *Tracker) status() Status {
	st := t.auth.State()
	s := Status{
		State:              t.machine.State(),
		Authorization:      st,
		AuthorizationLabel: authz.Describe(st),
		HasPermission:      authz.HasPermission(st),
		NeedsElevation:     authz.NeedsElevation(st),
	}
	if s.State == Tracking {
		cat := t.machine.Category()
		s.Category = &cat
	}
	if p, ok := t.machine.Progress(); ok {
		s.Progress = &p
	}
	return s
}

// SubmitFix queues a fix for the owner goroutine. Safe from any goroutine.
func (t *Tracker) SubmitFix(ctx context.Context, fix model.TimedFix) error {
	select {
	case <-t.done:
		return ErrTrackerClosed
	default:
	}
	select {
	case t.cmds <- command{kind: cmdFix, fix: fix}:
		return nil
	case <-t.done:
		return ErrTrackerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) Start(ctx context.Context, cat model.Category) error {
	res, err := t.request(ctx, command{kind: cmdStart, category: cat})
	if err != nil {
		return err
	}
	return res.err
}

// Stop closes the session and persists the trip. On ErrPersistence the
// returned Outcome still carries the record and the tracker is already idle.
func (t *Tracker) Stop(ctx context.Context) (Outcome, error) {
	res, err := t.request(ctx, command{kind: cmdStop})
	if err != nil {
		return Outcome{}, err
	}
	out := res.outcome
	if res.err != nil {
		return out, res.err
	}
	if out.Discarded {
		metrics.Trips.WithLabelValues("discarded", res.category.String()).Inc()
		log.Info().Time("startedAt", out.Summary.StartedAt).Msg(DiscardNotice)
		t.emit("tracking.discarded", map[string]any{"notice": DiscardNotice})
		return out, nil
	}
	rec := *out.Record
	if err := t.persist(ctx, rec); err != nil {
		return out, err
	}
	metrics.TripDistance.Observe(rec.DistanceMiles)
	return out, nil
}

func (t *Tracker) Status(ctx context.Context) (Status, error) {
	res, err := t.request(ctx, command{kind: cmdStatus})
	if err != nil {
		return Status{}, err
	}
	return res.status, nil
}

// RecordManual bypasses the state machine entirely.
func (t *Tracker) RecordManual(ctx context.Context, e ManualEntry) (model.TripRecord, error) {
	rec, err := BuildManualTrip(e)
	if err != nil {
		return model.TripRecord{}, err
	}
	if err := t.persist(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// persistTimeout bounds a trip insert that no longer follows the caller's cancellation.
const persistTimeout = 10 * time.Second

func (t *Tracker) persist(ctx context.Context, rec model.TripRecord) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	outcome := "recorded"
	if rec.IsManualEntry {
		outcome = "manual"
	}
	if err := t.sink.InsertTrip(ctx, rec); err != nil {
		metrics.Trips.WithLabelValues("persist_failed", rec.Category.String()).Inc()
		log.Error().Err(err).Str("tripId", rec.ID).Msg("trip insert failed")
		t.emit("trip.persist_failed", map[string]any{"tripId": rec.ID, "error": err.Error()})
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	metrics.Trips.WithLabelValues(outcome, rec.Category.String()).Inc()
	log.Info().Str("tripId", rec.ID).Float64("miles", rec.DistanceMiles).Bool("manual", rec.IsManualEntry).Msg("trip recorded")
	t.emit("trip.recorded", map[string]any{"trip": rec})
	return nil
}

func (t *Tracker) request(ctx context.Context, c command) (result, error) {
	c.reply = make(chan result, 1)
	select {
	case t.cmds <- c:
	case <-t.done:
		return result{}, ErrTrackerClosed
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
	// Once queued the command will run, so the caller waits for its result
	// regardless of ctx. The loop never blocks before replying.
	select {
	case r := <-c.reply:
		return r, nil
	case <-t.done:
		return result{}, ErrTrackerClosed
	}
}

// emit never blocks the owner loop; events are dropped when observers fall behind.
func (t *Tracker) emit(typ string, data map[string]any) {
	select {
	case t.outbox <- events.Event{Type: typ, Data: data}:
	default:
		log.Warn().Str("type", typ).Msg("event outbox full, dropping")
	}
}

func (t *Tracker) pump() {
	for {
		select {
		case evt := <-t.outbox:
			t.pub.Publish(events.TopicTracking, evt)
		case <-t.done:
			return
		}
	}
}
