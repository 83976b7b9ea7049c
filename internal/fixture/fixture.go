// Package fixture loads recorded drives and replays them through a tracker.
package fixture

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"mileage/internal/authz"
	"mileage/internal/model"
	"mileage/internal/store"
	"mileage/internal/tracking"
)

// Drive is a recorded tracking session. StartAt and StopAt default to the first
// and last fix timestamps.
type Drive struct {
	Name          string                   `yaml:"name"`
	Category      string                   `yaml:"category"`
	Authorization model.AuthorizationState `yaml:"authorization"`
	StartAt       time.Time                `yaml:"startAt"`
	StopAt        time.Time                `yaml:"stopAt"`
	Fixes         []model.TimedFix         `yaml:"fixes"`
}

func Load(path string) (Drive, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Drive{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Drive, error) {
	var d Drive
	if err := yaml.Unmarshal(b, &d); err != nil {
		return Drive{}, fmt.Errorf("fixture: %w", err)
	}
	if d.Authorization == "" {
		d.Authorization = model.AuthAlways
	}
	if _, err := model.ParseAuthorizationState(string(d.Authorization)); err != nil {
		return Drive{}, fmt.Errorf("fixture: %w", err)
	}
	if d.Category == "" {
		d.Category = model.CategoryPersonal.String()
	}
	if _, err := model.ParseCategory(d.Category); err != nil {
		return Drive{}, fmt.Errorf("fixture: %w", err)
	}
	if len(d.Fixes) > 0 {
		if d.StartAt.IsZero() {
			d.StartAt = d.Fixes[0].Timestamp
		}
		if d.StopAt.IsZero() {
			d.StopAt = d.Fixes[len(d.Fixes)-1].Timestamp
		}
	}
	return d, nil
}

// Result is what a replay produced, including the stored record if any.
type Result struct {
	Outcome tracking.Outcome   `json:"outcome"`
	Trips   []model.TripRecord `json:"trips"`
}

type replayClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *replayClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *replayClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Replay runs the drive through a fresh tracker backed by an in-memory store,
// using the drive's own timestamps as the clock.
func Replay(ctx context.Context, d Drive, filter tracking.FilterConfig) (Result, error) {
	cat, _ := model.ParseCategory(d.Category)
	mem := store.NewMemory()
	clk := &replayClock{t: d.StartAt}
	tr := tracking.New(tracking.Config{Filter: filter, Now: clk.now}, authz.NewDevice(d.Authorization, nil), mem, nil)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	if err := tr.Start(ctx, cat); err != nil {
		return Result{}, err
	}
	for _, f := range d.Fixes {
		if err := tr.SubmitFix(ctx, f); err != nil {
			return Result{}, err
		}
	}
	clk.set(d.StopAt)
	out, err := tr.Stop(ctx)
	if err != nil {
		return Result{Outcome: out}, err
	}
	trips, _, err := mem.ListTrips(ctx, model.TripFilter{}, "", 0)
	if err != nil {
		return Result{Outcome: out}, err
	}
	return Result{Outcome: out, Trips: trips}, nil
}
