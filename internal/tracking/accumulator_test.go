package tracking

import (
	"errors"
	"math"
	"testing"
	"time"

	"mileage/internal/geo"
	"mileage/internal/model"
)

func TestAccumulatorMatchesPathDistance(t *testing.T) {
	a := NewAccumulator(DefaultFilterConfig())
	t0 := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	if err := a.Begin(t0); err != nil {
		t.Fatalf("begin: %v", err)
	}
	fixes := []model.TimedFix{
		fixAt(37.7749, -122.4194, 5, 10),
		fixAt(37.7800, -122.4100, 5, 10),
		fixAt(37.7800, -122.4100, 80, 10), // rejected: accuracy
		fixAt(37.7850, -122.4000, 5, 0.2), // rejected: stationary
		fixAt(37.7900, -122.3950, 5, -1),  // accepted: unknown speed
		fixAt(37.8044, -122.2712, 5, 12),
	}
	var accepted []model.GeoPoint
	for _, f := range fixes {
		if a.Ingest(f).Accepted() {
			accepted = append(accepted, f.Point)
		}
	}
	if len(accepted) != 4 {
		t.Fatalf("expected 4 accepted fixes, got %d", len(accepted))
	}
	p, ok := a.Snapshot()
	if !ok || p.Points != 4 {
		t.Fatalf("snapshot: %+v %v", p, ok)
	}
	want := geo.PathDistance(accepted)
	if math.Abs(p.DistanceMiles-want) > 1e-9 {
		t.Fatalf("distance %v, want %v", p.DistanceMiles, want)
	}

	sum := a.End(t0.Add(time.Hour))
	if math.Abs(sum.DistanceMiles-want) > 1e-9 || len(sum.Route) != 4 {
		t.Fatalf("summary: %+v", sum)
	}
	if !sum.StartedAt.Equal(t0) || !sum.EndedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("summary times: %v %v", sum.StartedAt, sum.EndedAt)
	}
	if a.Active() {
		t.Fatal("session should be cleared after End")
	}
}

func TestAccumulatorBeginTwice(t *testing.T) {
	a := NewAccumulator(DefaultFilterConfig())
	_ = a.Begin(time.Now())
	if err := a.Begin(time.Now()); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestAccumulatorEndWithoutSession(t *testing.T) {
	a := NewAccumulator(DefaultFilterConfig())
	at := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	sum := a.End(at)
	if sum.DistanceMiles != 0 || len(sum.Route) != 0 || !sum.StartedAt.Equal(at) || !sum.EndedAt.Equal(at) {
		t.Fatalf("unexpected empty summary: %+v", sum)
	}
	if v := a.Ingest(fixAt(37, -122, 5, 5)); v != DroppedIdle {
		t.Fatalf("ingest without session: %s", v)
	}
}

func TestAccumulatorZeroAcceptedFixes(t *testing.T) {
	a := NewAccumulator(DefaultFilterConfig())
	_ = a.Begin(time.Now())
	a.Ingest(fixAt(37, -122, 200, 5))
	sum := a.End(time.Now())
	if sum.DistanceMiles != 0 || len(sum.Route) != 0 {
		t.Fatalf("expected empty session, got %+v", sum)
	}
}

func TestAccumulatorSingleFixHasNoDistance(t *testing.T) {
	a := NewAccumulator(DefaultFilterConfig())
	_ = a.Begin(time.Now())
	a.Ingest(fixAt(37, -122, 5, 5))
	sum := a.End(time.Now())
	if sum.DistanceMiles != 0 || len(sum.Route) != 1 {
		t.Fatalf("single fix: %+v", sum)
	}
}
